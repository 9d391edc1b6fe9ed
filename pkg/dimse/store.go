package dimse

import (
	"context"
	"fmt"
)

// StoreParams describes one instance sent with C-STORE.
type StoreParams struct {
	MessageID      uint16 // 0 picks the next message id
	SOPClassUID    string
	SOPInstanceUID string
	Priority       uint16
	// Data is the data set without the file meta header, encoded in the
	// transfer syntax accepted for SOPClassUID.
	Data []byte
}

// CStore sends one instance and returns the peer's response.
func (a *Association) CStore(ctx context.Context, params StoreParams) (*Command, error) {
	if params.SOPClassUID == "" || params.SOPInstanceUID == "" {
		return nil, fmt.Errorf("C-STORE requires SOP class and instance UIDs")
	}
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rsp, err := a.request(ctx, params.SOPClassUID, &Command{
		CommandField:           CStoreRQ,
		MessageID:              params.MessageID,
		AffectedSOPClassUID:    params.SOPClassUID,
		AffectedSOPInstanceUID: params.SOPInstanceUID,
		Priority:               params.Priority,
		CommandDataSetType:     DataSetPresent,
	}, params.Data)
	if err != nil {
		return nil, fmt.Errorf("C-STORE %s: %w", params.SOPInstanceUID, err)
	}
	if rsp.CommandField != CStoreRSP {
		return nil, ProtocolError.New("C-STORE answered with command field 0x%04x", rsp.CommandField)
	}
	return rsp, nil
}
