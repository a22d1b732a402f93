package client

import (
	ws "github.com/esp32-access-manager/backend/internal/websocket"
)

// RefetchTable maps each push event to the collections it invalidates.
// Events absent from the table carry ephemeral notices only.
var RefetchTable = map[ws.MessageType][]Resource{
	ws.TypePasswordUpdate:      {ResourceCodes},
	ws.TypeNFCUpdate:           {ResourceCards},
	ws.TypeNewLog:              {},
	ws.TypeNewUserRegistration: {ResourcePendingGuests},
	ws.TypeUserApprovalUpdate:  {ResourceGuests, ResourcePendingGuests},
	ws.TypeUserDeleted:         {ResourceGuests, ResourcePendingGuests},
	ws.TypeNewNFCRequest:       {ResourceRequests},
	ws.TypeNFCRequestResponded: {ResourceRequests, ResourceMyRequests},
}

// Ephemeral events are forwarded as notices and never refetch anything.
var ephemeral = map[ws.MessageType]bool{
	ws.TypeNFCDetected: true,
	ws.TypePINEntered:  true,
}

// ResourcesFor returns the collections to refetch after t.
func ResourcesFor(t ws.MessageType) []Resource {
	return RefetchTable[t]
}
