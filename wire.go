package mediator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// messageHeader is the part of every management message needed for dispatch.
type messageHeader struct {
	Type string `json:"@type"`
}

// decoders builds the request variant for each wire kind.
var decoders = map[RequestKind]func([]byte) (Request, error){
	KindCreateMailbox:    decodeAs[CreateMailboxRequest],
	KindAddRoute:         decodeAs[AddRouteRequest],
	KindAddDeviceInfo:    decodeAs[AddDeviceInfoRequest],
	KindGetInboxItems:    decodeAs[GetInboxItemsRequest],
	KindDeleteInboxItems: decodeAs[DeleteInboxItemsRequest],
	KindStoreBackup:      decodeAs[StoreBackupRequest],
	KindRetrieveBackup:   decodeAs[RetrieveBackupRequest],
	KindListBackups:      decodeAs[ListBackupsRequest],
}

func decodeAs[R Request](data []byte) (Request, error) {
	var r R
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// KindOf extracts the request kind from a message type such as
// "https://didcomm.org/basic-routing/1.0/add-route".
func KindOf(messageType string) RequestKind {
	i := strings.LastIndexByte(messageType, '/')
	return RequestKind(messageType[i+1:])
}

// DecodeRequest decodes a JSON management message into its request variant.
func DecodeRequest(data []byte) (Request, error) {
	var h messageHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: missing @type", ErrInvalidRequest)
	}

	kind := KindOf(h.Type)
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported message type %q", ErrInvalidRequest, h.Type)
	}
	req, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, kind, err)
	}
	return req, nil
}

// EncodeResponse encodes resp as JSON. A nil Response encodes as "{}".
func EncodeResponse(resp Response) ([]byte, error) {
	if resp == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(resp)
}
