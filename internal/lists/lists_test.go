package lists

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList(t *testing.T) {
	a := NewAllowList([]string{"a4c3f0", "00:1A:2B", "xyz", "F0DBF8AA"})
	assert.Equal(t, 3, a.Len())
	assert.True(t, a.Allows("A4C3F0112233"))
	assert.True(t, a.Allows("001A2B445566"))
	assert.True(t, a.Allows("F0DBF8000000"))
	assert.False(t, a.Allows("B4C3F0112233"))
	assert.False(t, a.Allows("A4C"))

	var nilList *AllowList
	assert.False(t, nilList.Allows("A4C3F0112233"))
}

func TestDenyList_NilDeniesNothing(t *testing.T) {
	var d *DenyList
	assert.False(t, d.Contains("A4C3F0112233"))
	assert.Equal(t, 0, d.Len())
}

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadAllowList(filepath.Join(dir, "nope.json"))
	assert.True(t, errors.Is(err, ErrMissingList), "got %v", err)
	_, err = LoadDenyList(filepath.Join(dir, "nope.json"))
	assert.True(t, errors.Is(err, ErrMissingList), "got %v", err)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0644))
	_, err := LoadAllowList(path)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingList))
}

func TestSaveDenyList_ReplacesNotMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter_list.json")

	require.NoError(t, SaveDenyList(path, []string{"aabbccddeeff", "112233445566"}))
	d, err := LoadDenyList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"112233445566", "AABBCCDDEEFF"}, d.Devices())

	require.NoError(t, SaveDenyList(path, []string{"AABBCCDDEEFF", "aabbccddeeff"}))
	d, err = LoadDenyList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AABBCCDDEEFF"}, d.Devices())
	assert.False(t, d.Contains("112233445566"))
}

func TestSaveDenyList_EmptyWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter_list.json")
	require.NoError(t, SaveDenyList(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestSaveDenyList_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter_list.json")
	require.NoError(t, SaveDenyList(path, []string{"AABBCCDDEEFF"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "filter_list.json", entries[0].Name())
}

func TestSaveDenyList_MissingDirKeepsOld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "filter_list.json")
	assert.Error(t, SaveDenyList(path, []string{"AABBCCDDEEFF"}))
}
