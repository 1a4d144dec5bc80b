package redispub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	p := New(nil, Config{})
	assert.Equal(t, "etl:agg:by_region", p.Key("by_region"))

	p = New(nil, Config{KeyPrefix: "shop"})
	assert.Equal(t, "shop:agg:generation", p.Key("generation"))
}

func TestPublish_NilSnapshot(t *testing.T) {
	p := New(nil, Config{})
	require.Error(t, p.Publish(context.Background(), nil))
}
