package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	require.NotEmpty(t, v)
	require.NotEmpty(t, c)
	require.NotEmpty(t, d)
	require.Equal(t, v, Version())
}

func TestString(t *testing.T) {
	s := String()
	require.Contains(t, s, "version="+version)
	require.Contains(t, s, "commit="+commit)
	require.Contains(t, s, "date="+date)
}

func TestFields(t *testing.T) {
	fields := Fields()
	require.Equal(t, version, fields["version"])
	require.Equal(t, commit, fields["commit"])
	require.Equal(t, date, fields["date"])
}
