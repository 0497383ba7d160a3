package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_ReachesQuorum(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	assert.False(t, s.Vote(key, 1, "digest-a", 3))
	assert.False(t, s.Vote(key, 2, "digest-a", 3))
	assert.True(t, s.Vote(key, 3, "digest-a", 3))

	assert.Equal(t, 3, s.Count(key, "digest-a"))
}

func TestSet_ConflictingDigestsDoNotMerge(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	s.Vote(key, 1, "digest-a", 3)
	s.Vote(key, 2, "digest-b", 3)
	reached := s.Vote(key, 3, "digest-a", 3)

	assert.False(t, reached, "digest-a only has 2 votes, digest-b has 1")
	assert.Equal(t, 2, s.Count(key, "digest-a"))
	assert.Equal(t, 1, s.Count(key, "digest-b"))
}

func TestSet_RevoteReplacesPriorVote(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	s.Vote(key, 1, "digest-a", 2)
	s.Vote(key, 1, "digest-b", 2) // replica 1 changes its mind

	assert.Equal(t, 0, s.Count(key, "digest-a"))
	assert.Equal(t, 1, s.Count(key, "digest-b"))
}

func TestSet_ForgetClearsSlot(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}
	s.Vote(key, 1, "digest-a", 2)
	assert.Equal(t, 1, s.Len())

	s.Forget(key)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Count(key, "digest-a"))
}

func TestSet_DistinctViewsDoNotShareVotes(t *testing.T) {
	s := NewSet()
	s.Vote(Key{View: 1, Sequence: 1}, 1, "d", 2)
	s.Vote(Key{View: 2, Sequence: 1}, 1, "d", 2)
	assert.Equal(t, 2, s.Len())
}

func TestSet_HasVoted(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	assert.False(t, s.HasVoted(key, 1), "no votes recorded yet")

	s.Vote(key, 2, "digest-a", 3)
	assert.False(t, s.HasVoted(key, 1), "replica 1 never voted")
	assert.True(t, s.HasVoted(key, 2), "replica 2 voted, regardless of quorum")
}

func TestSet_HasVotedSurvivesRevote(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	s.Vote(key, 1, "digest-a", 2)
	s.Vote(key, 1, "digest-b", 2)
	assert.True(t, s.HasVoted(key, 1), "a changed vote is still a vote")
}

func TestSet_VotersReturnsDistinctReplicaIDs(t *testing.T) {
	s := NewSet()
	key := Key{View: 1, Sequence: 5}

	assert.Empty(t, s.Voters(key), "no votes recorded yet")

	s.Vote(key, 1, "digest-a", 3)
	s.Vote(key, 2, "digest-a", 3)
	s.Vote(key, 3, "digest-b", 3)

	assert.ElementsMatch(t, []int{1, 2, 3}, s.Voters(key))
}

func TestSet_VotersScopedToKey(t *testing.T) {
	s := NewSet()
	s.Vote(Key{View: 1, Sequence: 1}, 1, "d", 2)
	s.Vote(Key{View: 2, Sequence: 1}, 2, "d", 2)

	assert.ElementsMatch(t, []int{1}, s.Voters(Key{View: 1, Sequence: 1}))
	assert.ElementsMatch(t, []int{2}, s.Voters(Key{View: 2, Sequence: 1}))
}
