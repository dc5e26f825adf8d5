package threads

import (
	"context"
	"testing"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordAnalyzerPickThread(t *testing.T) {
	candidates := []database.Thread{
		{ID: "thread-1", Title: "Dentist appointment", Category: "medical"},
		{ID: "thread-2", Title: "Summer camp", Category: "activities"},
		{ID: "thread-3", Title: "Summer camp signup", Category: "activities", IsArchived: true},
	}

	tcases := []struct {
		name   string
		text   string
		wantOK bool
		wantID string
	}{
		{name: "title match", text: "Is the dentist still on Tuesday?", wantOK: true, wantID: "thread-1"},
		{name: "category keywords", text: "Which camps did we pick for summer", wantOK: true, wantID: "thread-2"},
		{name: "below threshold", text: "ok thanks", wantOK: false},
		{name: "short words ignored", text: "the and for", wantOK: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := KeywordAnalyzer{}.PickThread(context.Background(), tc.text, candidates)
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok, "unexpected match result for %q", tc.text)
			if tc.wantOK {
				assert.Equal(t, tc.wantID, got.ID)
			}
		})
	}
}

func TestScoreThread(t *testing.T) {
	thread := database.Thread{Title: "Homework help", Category: "education"}
	words := keywordSet("homework for the tutoring session")

	// homework in title and category, tutoring in category, plus alignment
	want := titleWeight + 2*categoryWeight + alignmentBonus
	assert.Equal(t, want, scoreThread(words, detectCategory(words), thread))
}

func TestDetectCategoryPriority(t *testing.T) {
	// both medical and schedule keywords, medical ranks higher
	words := keywordSet("pickup after the doctor")
	assert.Equal(t, "medical", detectCategory(words))
	assert.Empty(t, detectCategory(keywordSet("hello there")))
}
