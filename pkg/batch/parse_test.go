package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/types"
)

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, types.BatchFormatYAML, DetectFormat("users.yaml"))
	assert.Equal(t, types.BatchFormatYAML, DetectFormat("/tmp/USERS.YML"))
	assert.Equal(t, types.BatchFormatLines, DetectFormat("users.txt"))
	assert.Equal(t, types.BatchFormatLines, DetectFormat("-"))
}

func TestParseLines(t *testing.T) {
	input := `
# accounts for the spring cohort
alice alice@example.com --staff -g editors -g "content reviewers"
bob bob@example.com --groups a,b --superuser --unusable-password

carol carol@example.com --remove
dave dave@example.com --initial-password-hash '$2b$10$abcdefghijklmnopqrstuv'
erin erin@example.com --initial-password-hash=
`
	entries, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		require.NoError(t, e.Err, e.Source)
	}

	alice := entries[0]
	assert.Equal(t, "line 3", alice.Source)
	assert.Equal(t, "alice", alice.Record.Username)
	assert.Equal(t, "alice@example.com", alice.Record.Email)
	assert.True(t, alice.Record.Staff)
	assert.False(t, alice.Record.Superuser)
	assert.Equal(t, []string{"editors", "content reviewers"}, alice.Record.Groups)
	assert.Nil(t, alice.Record.InitialPasswordHash)

	bob := entries[1].Record
	assert.Equal(t, []string{"a", "b"}, bob.Groups)
	assert.True(t, bob.Superuser)
	assert.True(t, bob.UnusablePassword)

	carol := entries[2]
	assert.Equal(t, "line 6", carol.Source)
	assert.True(t, carol.Record.Remove)

	dave := entries[3].Record.Desired()
	assert.True(t, dave.InitialPasswordHashSet)
	assert.Equal(t, "$2b$10$abcdefghijklmnopqrstuv", dave.InitialPasswordHash)

	erin := entries[4].Record.Desired()
	assert.True(t, erin.InitialPasswordHashSet)
	assert.Empty(t, erin.InitialPasswordHash)
}

func TestParseLines_BadRecords(t *testing.T) {
	input := strings.Join([]string{
		`alice`,
		`bob bob@example.com --frobnicate`,
		`carol "carol@example.com`,
		`dave not-an-email`,
		`erin erin@example.com extra`,
		`frank frank@example.com`,
	}, "\n")

	entries, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 6)

	for _, e := range entries[:5] {
		assert.Error(t, e.Err, e.Source)
	}
	assert.True(t, errors.HasCode(entries[0].Err, errors.ErrCodeInvalidInput))
	assert.True(t, errors.HasCode(entries[3].Err, errors.ErrCodeValidation))
	assert.Contains(t, entries[3].Err.Error(), "email")
	assert.NoError(t, entries[5].Err)
	assert.Equal(t, "line 6", entries[5].Source)
}

func TestParseLines_OverlongLine(t *testing.T) {
	input := strings.Join([]string{
		`alice alice@example.com`,
		`bob bob@example.com -g ` + strings.Repeat("g", 70000),
		`carol carol@example.com`,
	}, "\n")

	entries, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.NoError(t, entries[0].Err)
	assert.Equal(t, "alice", entries[0].Record.Username)

	assert.Equal(t, "line 2", entries[1].Source)
	assert.True(t, errors.HasCode(entries[1].Err, errors.ErrCodeInvalidInput))

	assert.NoError(t, entries[2].Err)
	assert.Equal(t, "line 3", entries[2].Source)
	assert.Equal(t, "carol", entries[2].Record.Username)
}

func TestParseYAML(t *testing.T) {
	input := `
users:
  - username: alice
    email: alice@example.com
    staff: true
    groups: [editors, reviewers]
  - username: bob
    email: bob@example.com
    remove: true
  - username: carol
    email: carol@example.com
    initial_password_hash: ""
  - username: dave
    email: dave@example.com
    superpowers: true
  - username: ""
    email: erin@example.com
`
	entries, err := ParseYAML(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	require.NoError(t, entries[0].Err)
	assert.Equal(t, "line 3", entries[0].Source)
	assert.True(t, entries[0].Record.Staff)
	assert.Equal(t, []string{"editors", "reviewers"}, entries[0].Record.Groups)

	require.NoError(t, entries[1].Err)
	assert.True(t, entries[1].Record.Remove)

	require.NoError(t, entries[2].Err)
	carol := entries[2].Record.Desired()
	assert.True(t, carol.InitialPasswordHashSet)
	assert.Empty(t, carol.InitialPasswordHash)

	require.Error(t, entries[3].Err)
	assert.Contains(t, entries[3].Err.Error(), "superpowers")

	require.Error(t, entries[4].Err)
	assert.True(t, errors.HasCode(entries[4].Err, errors.ErrCodeValidation))
}

func TestParseYAML_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a mapping", "- alice\n- bob\n"},
		{"missing users", "accounts: []\n"},
		{"users not a list", "users: alice\n"},
		{"syntax", "users: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}

	t.Run("empty", func(t *testing.T) {
		entries, err := ParseYAML(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse(strings.NewReader(""), types.BatchFormat("csv"))
	assert.Error(t, err)
}
