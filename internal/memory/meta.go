package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Hot topics come from the last month of session summaries.
const hotWindow = 30 * 24 * time.Hour

var _ MetaMemory = (*SQLiteStore)(nil)

// Hot returns the user's most frequent recent conversation topics,
// most frequent first, at most five.
func (s *SQLiteStore) Hot(ctx context.Context, userID string) ([]string, error) {
	since := time.Now().Add(-hotWindow).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_topics FROM episodic_summaries
		WHERE user_id = ? AND ended_at >= ?
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query hot topics: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan topics: %w", err)
		}
		var topics []string
		if err := json.Unmarshal([]byte(raw), &topics); err != nil {
			continue
		}
		for _, t := range topics {
			if t != "" {
				counts[t]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})

	if len(topics) > 5 {
		topics = topics[:5]
	}
	return topics, nil
}
