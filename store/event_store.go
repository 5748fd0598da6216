// api/store/event_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"revsend/api/database"
	"revsend/api/models"
)

// EventStore reads behavioral aggregates from the ClickHouse
// analytics_events table.
type EventStore struct {
	DB *database.ClickHouseClient
}

func NewEventStore(chClient *database.ClickHouseClient) *EventStore {
	return &EventStore{
		DB: chClient,
	}
}

// GetUserEventCounts aggregates, per user, the events that make up the
// behavioral features since the given time. A zero since reads all events.
func (s *EventStore) GetUserEventCounts(ctx context.Context, since time.Time) ([]models.UserEventCounts, error) {
	whereClause := "user_id != ''"
	args := []interface{}{
		models.EventMarketplaceVisit,
		models.EventExtensionAction,
		models.EventCampaignCreated,
		models.EventCampaignCreated,
		models.EventNotesSent,
	}
	if !since.IsZero() {
		whereClause += " AND timestamp >= ?"
		args = append(args, since)
	}

	query := fmt.Sprintf(`
		SELECT
			user_id,
			countIf(event_type = ?) AS marketplace_visits,
			countIf(event_type = ?) AS extension_actions,
			countIf(event_type = ?) AS campaigns_created,
			-- personalization level is recorded on each created campaign
			coalesce(maxIf(JSONExtractFloat(toString(event_data), 'personalization_level'), event_type = ?), 0) AS personalization_level,
			countIf(event_type = ?) AS notes_sent
		FROM analytics_events
		WHERE %s
		GROUP BY user_id
		ORDER BY user_id ASC
	`, whereClause)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user event counts: %w", err)
	}
	defer rows.Close()

	var results []models.UserEventCounts
	for rows.Next() {
		var c models.UserEventCounts
		if err := rows.Scan(
			&c.UserID,
			&c.MarketplaceVisits,
			&c.ExtensionActions,
			&c.CampaignsCreated,
			&c.PersonalizationLevel,
			&c.NotesSent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user event counts: %w", err)
		}
		results = append(results, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for user event counts: %w", err)
	}

	return results, nil
}
