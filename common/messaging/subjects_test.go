package messaging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	for _, subject := range []string{SubjectEventsPrefix, SubjectDLQ} {
		parts := strings.Split(subject, ".")
		assert.GreaterOrEqual(t, len(parts), 2, "subject %q", subject)
	}
	assert.Equal(t, "events.collect.3", PartitionSubject(SubjectEventsPrefix, 3))
	assert.Equal(t, "events.collect.*", WildcardSubject(SubjectEventsPrefix))
	assert.Equal(t, "storage-p7", ConsumerName(7))
}

func TestPartitionFor(t *testing.T) {
	t.Run("stable for a key", func(t *testing.T) {
		first := PartitionFor("user-123", 8)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, PartitionFor("user-123", 8))
		}
	})

	t.Run("within range", func(t *testing.T) {
		for i := 0; i < 500; i++ {
			p := PartitionFor("user-"+strings.Repeat("x", i), 8)
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, 8)
		}
	})

	t.Run("known FNV-1a values", func(t *testing.T) {
		// fnv32a("") = 0x811c9dc5, fnv32a("a") = 0xe40c292c
		assert.Equal(t, int(uint32(0x811c9dc5)%7), PartitionFor("", 7))
		assert.Equal(t, int(uint32(0xe40c292c)%5), PartitionFor("a", 5))
	})

	t.Run("single partition", func(t *testing.T) {
		assert.Equal(t, 0, PartitionFor("anything", 1))
		assert.Equal(t, 0, PartitionFor("anything", 0))
	})
}
