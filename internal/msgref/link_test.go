package msgref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		fragment string
		username string
		topic    int
		ids      []int
	}{
		{
			name:     "private single",
			link:     "https://t.me/c/1234567890/18",
			fragment: "1234567890",
			ids:      []int{18},
		},
		{
			name:     "private with topic is not part of the range",
			link:     "https://t.me/c/3166766661/4/18",
			fragment: "3166766661",
			topic:    4,
			ids:      []int{18},
		},
		{
			name:     "private topic and range",
			link:     "https://t.me/c/3166766661/4/10-16",
			fragment: "3166766661",
			topic:    4,
			ids:      seq(10, 16),
		},
		{
			name:     "private topic and list",
			link:     "t.me/c/3166766661/4/1,4,5-10",
			fragment: "3166766661",
			topic:    4,
			ids:      []int{1, 4, 5, 6, 7, 8, 9, 10},
		},
		{
			name:     "query and trailing slash ignored",
			link:     "https://t.me/c/42/7?single/",
			fragment: "42",
			ids:      []int{7},
		},
		{
			name:     "public",
			link:     "https://t.me/golang_jobs/100-102",
			username: "golang_jobs",
			ids:      []int{100, 101, 102},
		},
		{
			name:     "public forum topic",
			link:     "https://telegram.me/somegroup/15/30",
			username: "somegroup",
			topic:    15,
			ids:      []int{30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLink(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.fragment, got.ChatFragment)
			assert.Equal(t, tt.username, got.Username)
			assert.Equal(t, tt.topic, got.TopicID)
			assert.Equal(t, tt.ids, got.IDs)
			assert.False(t, got.IsBare())
		})
	}
}

func TestParseLink_Errors(t *testing.T) {
	_, err := ParseLink("https://example.com/c/1/2")
	assert.ErrorIs(t, err, ErrNotALink)

	_, err = ParseLink("https://t.me/c/123")
	assert.ErrorIs(t, err, ErrNoMessageIDs)

	_, err = ParseLink("https://t.me/c/123/abc")
	assert.ErrorIs(t, err, ErrNoMessageIDs)

	_, err = ParseLink("https://t.me/c/notanumber/5")
	assert.ErrorIs(t, err, ErrNotALink)
}

func TestParseTarget(t *testing.T) {
	l, err := ParseTarget("5-7", 0)
	require.NoError(t, err)
	assert.True(t, l.IsBare())
	assert.Equal(t, []int{5, 6, 7}, l.IDs)

	l, err = ParseTarget("https://t.me/c/99/5", 0)
	require.NoError(t, err)
	assert.Equal(t, "99", l.ChatFragment)

	_, err = ParseTarget("hello", 0)
	assert.ErrorIs(t, err, ErrNoMessageIDs)

	_, err = ParseTarget("1-100", 10)
	assert.ErrorIs(t, err, ErrTooManyIDs)
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"-1003166766661", "-3166766661", "3166766661"}, Candidates("3166766661"))
	assert.Nil(t, Candidates(" "))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "3166766661", Normalize("-1003166766661"))
	assert.Equal(t, "4242", Normalize("-4242"))
	assert.Equal(t, "777", Normalize("777"))
}
