package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/broker/discovery"
)

func TestLocalServicesSortedByFullName(t *testing.T) {
	c := discovery.New()
	c.AddLocal(discovery.Service{Name: "users", Actions: []string{"users.get"}})
	c.AddLocal(discovery.Service{Name: "math", Version: "2", Actions: []string{"math.add"}})
	c.AddLocal(discovery.Service{Name: "math", Actions: []string{"math.add"}})

	got := c.Local()
	require.Len(t, got, 3)
	assert.Equal(t, "math", got[0].FullName())
	assert.Equal(t, "math@2", got[1].FullName())
	assert.Equal(t, "users", got[2].FullName())
}

func TestRemoteCatalogReplacesPreviousSnapshot(t *testing.T) {
	c := discovery.New()
	c.SetRemote("node-b", []discovery.Service{{Name: "users", Actions: []string{"users.get"}}})
	assert.Equal(t, []string{"node-b"}, c.Nodes())

	c.SetRemote("node-b", []discovery.Service{{Name: "orders", Actions: []string{"orders.get"}}})
	got := c.Remote("node-b")
	require.Len(t, got, 1)
	assert.Equal(t, "orders", got[0].Name)
}

func TestRemoveNodeForgetsCatalog(t *testing.T) {
	c := discovery.New()
	c.SetRemote("node-b", []discovery.Service{{Name: "users", Actions: []string{"users.get"}}})
	c.RemoveNode("node-b")
	assert.Empty(t, c.Nodes())
	assert.Empty(t, c.Remote("node-b"))
}

func TestActionHostsFindsLocalAndRemote(t *testing.T) {
	c := discovery.New()
	c.AddLocal(discovery.Service{Name: "math", Actions: []string{"math.add"}})
	c.SetRemote("node-b", []discovery.Service{{Name: "math", Actions: []string{"math.add"}}})
	c.SetRemote("node-c", []discovery.Service{{Name: "users", Actions: []string{"users.get"}}})

	hosts := c.ActionHosts("math.add")
	assert.ElementsMatch(t, []string{"", "node-b"}, hosts)

	assert.Empty(t, c.ActionHosts("unknown.action"))
}
