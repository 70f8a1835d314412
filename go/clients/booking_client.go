package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// BookingClient talks to the booking REST API.
type BookingClient struct {
	*BaseClient
}

func NewBookingClient(baseURL, token string) *BookingClient {
	client := &BookingClient{
		BaseClient: NewBaseClient(baseURL),
	}

	client.SetHeader("Accept", "application/json")
	client.SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetHeader("Authorization", "Bearer "+token)
	}

	return client
}

// Envelope is the response wrapper used by every booking endpoint.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// SeatHoldRequest is the body of a seat hold create or refresh call.
type SeatHoldRequest struct {
	SeatIDs    []string `json:"seat_ids"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

func seatHoldPath(showtimeID, userID string) string {
	return fmt.Sprintf("/bookings/show-times/%s/users/%s/seat-hold",
		url.PathEscape(showtimeID), url.PathEscape(userID))
}

// SeatHoldTTL returns the remaining seconds of the user's hold for a
// showtime. Zero means no hold is visible on the server.
func (c *BookingClient) SeatHoldTTL(ctx context.Context, showtimeID, userID string) (int, error) {
	body, err := c.Get(ctx, seatHoldPath(showtimeID, userID)+"/ttl")
	if err != nil {
		return 0, fmt.Errorf("failed to get seat hold ttl: %w", err)
	}

	var response Envelope[int]
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	if response.Status != http.StatusOK {
		return 0, fmt.Errorf("%w: envelope status %d: %s", ErrUnexpectedStatus, response.Status, response.Message)
	}
	if response.Data < 0 {
		return 0, nil
	}

	return response.Data, nil
}

// HoldSeats creates or refreshes the user's hold. The server creates the
// hold asynchronously; its TTL may not be readable immediately.
func (c *BookingClient) HoldSeats(ctx context.Context, showtimeID, userID string, req SeatHoldRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal seat hold request: %w", err)
	}
	if _, err := c.Post(ctx, seatHoldPath(showtimeID, userID), bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("failed to hold seats: %w", err)
	}
	return nil
}

// ReleaseSeats drops the user's hold.
func (c *BookingClient) ReleaseSeats(ctx context.Context, showtimeID, userID string) error {
	if _, err := c.Delete(ctx, seatHoldPath(showtimeID, userID)); err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	return nil
}
