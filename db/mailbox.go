package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatrelay/models"
)

// Offline mailbox methods

// EnqueueMessage stores msg for a recipient who is not connected.
func (db *DB) EnqueueMessage(ctx context.Context, recipient string, msg models.Message) error {
	recipients, err := json.Marshal(msg.Recipients())
	if err != nil {
		return err
	}

	_, err = db.exec(ctx,
		`INSERT INTO queued_messages (recipient, sender, recipients, text, image, image_path, send_time, queued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recipient, msg.SentBy(), string(recipients), msg.Text(), msg.Image(), msg.ImagePath(),
		msg.SendTime(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// FetchQueuedMessages returns the recipient's queued messages in arrival order.
func (db *DB) FetchQueuedMessages(ctx context.Context, recipient string) ([]models.Message, error) {
	rows, err := db.query(ctx,
		`SELECT sender, recipients, text, image, image_path, send_time
		   FROM queued_messages
		  WHERE recipient = ?
		  ORDER BY id`,
		recipient,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var p models.MessageParams
		var recipients string
		if err := rows.Scan(&p.SentBy, &recipients, &p.Text, &p.Image, &p.ImagePath, &p.SendTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recipients), &p.Recipients); err != nil {
			return nil, fmt.Errorf("queued message recipients: %w", err)
		}

		msg, err := models.NewMessage(p)
		if err != nil {
			return nil, fmt.Errorf("queued message from %s: %w", p.SentBy, err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// ClearQueuedMessages removes the recipient's oldest count messages. Messages
// queued after the matching fetch are kept.
func (db *DB) ClearQueuedMessages(ctx context.Context, recipient string, count int) error {
	if count <= 0 {
		return nil
	}
	_, err := db.exec(ctx,
		`DELETE FROM queued_messages
		  WHERE id IN (SELECT id FROM queued_messages WHERE recipient = ? ORDER BY id LIMIT ?)`,
		recipient, count,
	)
	return err
}
