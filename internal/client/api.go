package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/registry"
	"lock-credential-bridge/internal/types"
)

// maxPages bounds pagination when upstream keeps reporting more pages
const maxPages = 1000

// page is the envelope of every paginated listing
type page[T any] struct {
	Success    *bool  `json:"success"`
	Message    string `json:"message"`
	Data       []T    `json:"data"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

// SlotWriteRequest is the body of a slot write
type SlotWriteRequest struct {
	Value string `json:"value"`
}

// credentialSnapshotResponse is the wire form of a space credential snapshot
type credentialSnapshotResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Devices []struct {
		DeviceID  string            `json:"device_id"`
		GatewayID string            `json:"gateway_id"`
		Slots     map[string]string `json:"slots"`
	} `json:"devices"`
}

// statusEnvelope catches 2xx responses that still report failure
type statusEnvelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func (e statusEnvelope) failed() bool {
	return e.Success != nil && !*e.Success
}

// FetchSpaces lists the spaces of a project
func (c *HTTPClient) FetchSpaces(ctx context.Context, projectID string) ([]registry.RawSpace, error) {
	path := fmt.Sprintf("/api/v1/projects/%s/spaces", url.PathEscape(projectID))
	return fetchAll[registry.RawSpace](ctx, c, "fetch_spaces", path)
}

// FetchProjectDevices lists every device registered on a project
func (c *HTTPClient) FetchProjectDevices(ctx context.Context, projectID string) ([]registry.RawProjectDevice, error) {
	path := fmt.Sprintf("/api/v1/projects/%s/devices", url.PathEscape(projectID))
	return fetchAll[registry.RawProjectDevice](ctx, c, "fetch_project_devices", path)
}

// FetchSpaceDevices lists the devices and containers of a space
func (c *HTTPClient) FetchSpaceDevices(ctx context.Context, spaceID string) ([]registry.RawSpaceEntry, error) {
	path := fmt.Sprintf("/api/v1/spaces/%s/devices", url.PathEscape(spaceID))
	return fetchAll[registry.RawSpaceEntry](ctx, c, "fetch_space_devices", path)
}

// FetchCredentialSnapshot returns the authoritative slot contents of every lock in a space
func (c *HTTPClient) FetchCredentialSnapshot(ctx context.Context, spaceID string) (types.CredentialSnapshot, error) {
	const op = "fetch_credentials"
	resp, err := c.Do(ctx, &Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/v1/spaces/%s/credentials", url.PathEscape(spaceID)),
	})
	if err != nil {
		return nil, err
	}

	var body credentialSnapshotResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse credential snapshot: %w", err)}
	}
	if body.Success != nil && !*body.Success {
		return nil, &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: body.Message}
	}

	snapshot := make(types.CredentialSnapshot, len(body.Devices))
	for _, d := range body.Devices {
		if d.DeviceID == "" {
			continue
		}
		slots, _ := registry.ParseSlotMap(d.Slots)
		if slots == nil {
			slots = map[int]string{}
		}
		snapshot[d.DeviceID] = types.DeviceCredentials{
			DeviceID:  d.DeviceID,
			GatewayID: d.GatewayID,
			Slots:     slots,
		}
	}

	c.logger.WithFields(logrus.Fields{
		"space_id": spaceID,
		"devices":  len(snapshot),
	}).Debug("Credential snapshot fetched")
	return snapshot, nil
}

// WriteSlot stores value in one slot of a lock. An empty value clears the slot.
func (c *HTTPClient) WriteSlot(ctx context.Context, gatewayID, deviceID string, slot int, value string) error {
	const op = "write_slot"
	resp, err := c.Do(ctx, &Request{
		Op:     op,
		Method: http.MethodPut,
		Path: fmt.Sprintf("/api/v1/gateways/%s/devices/%s/slots/%d",
			url.PathEscape(gatewayID), url.PathEscape(deviceID), slot),
		Body: &SlotWriteRequest{Value: value},
	})
	if err != nil {
		return err
	}

	var status statusEnvelope
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &status) == nil && status.failed() {
		return &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: status.Message}
	}
	return nil
}

// fetchAll walks every page of a listing
func fetchAll[T any](ctx context.Context, c *HTTPClient, op, path string) ([]T, error) {
	var items []T
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(pageNum))
		query.Set("page_size", strconv.Itoa(c.pageSize))

		resp, err := c.Do(ctx, &Request{
			Op:     op,
			Method: http.MethodGet,
			Path:   path + "?" + query.Encode(),
		})
		if err != nil {
			return nil, err
		}

		var body page[T]
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse page %d: %w", pageNum, err)}
		}
		if body.Success != nil && !*body.Success {
			return nil, &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: body.Message}
		}

		items = append(items, body.Data...)
		if body.TotalPages <= pageNum || len(body.Data) == 0 {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"op":    op,
		"count": len(items),
	}).Debug("Listing fetched")
	return items, nil
}
