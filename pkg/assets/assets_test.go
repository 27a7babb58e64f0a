package assets

import (
	"os"
	"strings"
	"testing"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteAndOpenRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	n, err := s.Write("project-1/mesh.glb", strings.NewReader("mesh-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("mesh-bytes")), n)

	f, err := s.Open("project-1/mesh.glb")
	require.NoError(t, err)
	defer f.Close()

	size, err := s.Size("project-1/mesh.glb")
	require.NoError(t, err)
	assert.Equal(t, int64(len("mesh-bytes")), size)
}

func TestStore_WriteLeavesNoPartFileOnSuccess(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Write("out.bin", strings.NewReader("data"))
	require.NoError(t, err)

	full, err := s.ResolvePath("out.bin")
	require.NoError(t, err)
	_, statErr := s.Open("out.bin")
	require.NoError(t, statErr)
	_, partErr := os.Stat(full + ".part")
	assert.True(t, os.IsNotExist(partErr), "no .part file should remain after a successful write")
}

func TestStore_ResolvePathRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	cases := []string{
		"../outside.txt",
		"../../etc/passwd",
		"a/../../b.txt",
		"..",
	}
	for _, c := range cases {
		_, err := s.ResolvePath(c)
		require.Error(t, err, "path %q should be rejected", c)
		assert.Equal(t, ferr.KindPathViolation, ferr.KindOf(err))
	}
}

func TestStore_ResolvePathSanitizesReservedCharacters(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	full, err := s.ResolvePath(`weird:name?.png`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, s.Root()))
	assert.NotContains(t, full, ":")
	assert.NotContains(t, full, "?")
}

func TestStore_DeleteMissingIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Delete("never-written.bin")
	assert.NoError(t, err)
}
