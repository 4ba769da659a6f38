package block_test

import (
	"testing"

	"github.com/maestro-os/maestro/block"
	"github.com/maestro-os/maestro/errno"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := block.NewRegistry()
	dev := newMemDevice("sda", 10)
	reg.Register(dev)

	got, ok := reg.Get("sda")
	require.True(t, ok)
	require.Equal(t, dev, got)

	reg.Unregister("sda")
	_, ok = reg.Get("sda")
	require.False(t, ok)
}

func TestPartitionDeviceReadIsOffsetFromParent(t *testing.T) {
	dev := newMemDevice("sda", 200)
	writeGPT(t, dev, 40, 100)

	reg := block.NewRegistry()
	_, err := block.DetectPartitions(reg, dev)
	require.NoError(t, err)

	sub, ok := reg.Get("sda1")
	require.True(t, ok)

	marker := make([]byte, testBlockSize)
	for i := range marker {
		marker[i] = 0xAB
	}
	copy(dev.blocks[40*testBlockSize:], marker)

	buf := make([]byte, testBlockSize)
	require.NoError(t, sub.ReadBlocks(0, buf))
	require.Equal(t, marker, buf)
}

func TestPartitionDeviceReadPastEndFails(t *testing.T) {
	dev := newMemDevice("sda", 200)
	writeGPT(t, dev, 40, 100)

	reg := block.NewRegistry()
	_, err := block.DetectPartitions(reg, dev)
	require.NoError(t, err)
	sub, _ := reg.Get("sda1")

	buf := make([]byte, testBlockSize*100)
	require.ErrorIs(t, sub.ReadBlocks(0, buf), errno.EINVAL)
}
