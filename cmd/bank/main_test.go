package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersRoles(t *testing.T) {
	root := newRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"gateway", "worker", "realtime", "migrate"} {
		require.True(t, names[want], "missing %s command", want)
	}
}

func TestWorkerRejectsUnknownRole(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"worker", "payments"})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown worker role")
}

func TestWorkerRequiresRole(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"worker"})

	require.Error(t, root.Execute())
}

func TestGatewayRequiresBrokerURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RABBITMQ_URL", "")

	root := newRootCommand()
	root.SetArgs([]string{"gateway"})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "RABBITMQ_URL")
}
