package workload

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// newFaker returns the argument generator for one connection. A zero seed
// gives random data; otherwise each connection gets its own deterministic
// stream.
func newFaker(seed int64, conn int) *gofakeit.Faker {
	if seed == 0 {
		return gofakeit.New(0)
	}
	return gofakeit.New(uint64(seed) + uint64(conn))
}

// expand returns a copy of args with every {...} template replaced by
// generated data.
func expand(f *gofakeit.Faker, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok || !strings.Contains(s, "{") {
			out[i] = a
			continue
		}
		v, err := f.Generate(s)
		if err != nil {
			return nil, fmt.Errorf("arg %d %q: %w", i+1, s, err)
		}
		out[i] = v
	}
	return out, nil
}
