package ulid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsMonotonic(t *testing.T) {
	a := assert.New(t)

	at := time.Now()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewAt(at)
	}

	a.True(sort.StringsAreSorted(ids))
	a.Len(ids[0], 26)
	a.NotEqual(ids[0], ids[1])
}
