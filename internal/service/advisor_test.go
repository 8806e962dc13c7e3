package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	gen := &scriptedGenerator{body: `{"comparison":{"summary":"Both brew well","categories":[{"name":"Price","winner":"Basics","explanation":"Cheaper"}],"recommendation":"Get the Basics"}}`}
	advisor := NewProductAdvisor(gen)

	cmp, err := advisor.Compare(context.Background(), []string{"Basics", "Keurig"}, "")
	require.NoError(t, err)

	assert.Equal(t, "Both brew well", cmp.Summary)
	require.Len(t, cmp.Categories, 1)
	assert.Equal(t, "Basics", cmp.Categories[0].Winner)
	assert.Contains(t, gen.prompts[0], "comparison focus: general")
}

func TestCompareError(t *testing.T) {
	advisor := NewProductAdvisor(&scriptedGenerator{err: errors.New("down")})

	_, err := advisor.Compare(context.Background(), []string{"a", "b"}, "price")
	assert.ErrorContains(t, err, "failed to compare products")
}

func TestSuggestFollowupsFillsEmptyLists(t *testing.T) {
	gen := &scriptedGenerator{body: `{"followups":{"refinements":["under $30"]}}`}

	f, err := NewProductAdvisor(gen).SuggestFollowups(context.Background(), "kettle", []string{"Cosori"})
	require.NoError(t, err)

	assert.Equal(t, []string{"under $30"}, f.Refinements)
	assert.NotNil(t, f.Questions)
	assert.NotNil(t, f.Alternatives)
}
