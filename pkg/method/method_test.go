package method

import (
	"reflect"
	"testing"

	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	tests := []struct {
		name string
		want int32
	}{
		{"", -2128831035},
		{"a", -468965076},
		{"foobar", -1080231576},
		{"Join", 805458841},
		{"OnMove", 1429874301},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ID(tt.name), tt.name)
		assert.Equal(t, ID(tt.name), ID(tt.name))
	}
}

func TestNewTableHub(t *testing.T) {
	strType := reflect.TypeOf("")
	table, err := NewTable("ChatHub", true, []Spec{
		{Name: "Join", Kind: HubInvoke, Parameters: 1, RequestType: strType},
		{Name: "Move", Kind: HubNotify, Parameters: 1},
		{Name: "Ping", Kind: HubInvoke, ID: 42, HasID: true},
	})
	require.NoError(t, err)

	d, ok := table.LookupID(ID("Join"))
	require.True(t, ok)
	assert.Equal(t, "Join", d.MethodName)
	assert.Equal(t, strType, d.RequestType)
	assert.Equal(t, "/ChatHub/Join", d.FullName())

	d, ok = table.LookupID(42)
	require.True(t, ok)
	assert.Equal(t, "Ping", d.MethodName)

	_, ok = table.LookupID(0x1234)
	assert.False(t, ok)

	names := []string{}
	for _, d := range table.Descriptors() {
		names = append(names, d.MethodName)
	}
	assert.Equal(t, []string{"Join", "Move", "Ping"}, names)
}

func TestNewTableRejects(t *testing.T) {
	tests := []struct {
		name  string
		hub   bool
		specs []Spec
	}{
		{"id collision", true, []Spec{
			{Name: "Join", Kind: HubInvoke},
			{Name: "Other", Kind: HubInvoke, ID: ID("Join"), HasID: true},
		}},
		{"duplicate name", false, []Spec{
			{Name: "Get", Kind: Unary},
			{Name: "Get", Kind: Unary},
		}},
		{"streaming with parameters", false, []Spec{
			{Name: "Upload", Kind: ClientStreaming, Parameters: 1},
		}},
		{"duplex with parameters", false, []Spec{
			{Name: "Chat", Kind: DuplexStreaming, Parameters: 2},
		}},
		{"hub kind on service", false, []Spec{
			{Name: "Join", Kind: HubInvoke},
		}},
		{"unary kind on hub", true, []Spec{
			{Name: "Get", Kind: Unary},
		}},
		{"empty name", true, []Spec{
			{Kind: HubNotify},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable("Svc", tt.hub, tt.specs)
			require.Error(t, err)

			e := errors.FromError(err)
			assert.Equal(t, errors.ErrorTypeRegistration, e.Type)
		})
	}
}

func TestPlainServiceAllowsStreamingWithoutParameters(t *testing.T) {
	table, err := NewTable("FileService", false, []Spec{
		{Name: "Upload", Kind: ClientStreaming},
		{Name: "Download", Kind: ServerStreaming, Parameters: 1},
		{Name: "Sync", Kind: DuplexStreaming},
	})
	require.NoError(t, err)

	d, ok := table.Lookup("Download")
	require.True(t, ok)
	assert.Equal(t, ServerStreaming, d.Kind)
}
