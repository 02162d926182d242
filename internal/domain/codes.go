package domain

// Canonical event codes produced by source adapters. The set is open-ended;
// unknown codes persist as plain status updates and never drive status
// derivation.
const (
	CodeShipmentCreated  = "SHIPMENT_CREATED"
	CodeBookingConfirmed = "BOOKING_CONFIRMED"
	CodeCargoCollected   = "CARGO_COLLECTED"
	CodeManifested       = "MANIFESTED"
	CodeFlightDeparted   = "FLIGHT_DEPARTED"
	CodeInTransit        = "IN_TRANSIT"
	CodeFlightArrived    = "FLIGHT_ARRIVED"
	CodeCustomsStarted   = "CUSTOMS_CLEARANCE_START"
	CodeCustomsCleared   = "CUSTOMS_CLEARED"
	CodeCustomsHold      = "CUSTOMS_HOLD"
	CodeOutForDelivery   = "OUT_FOR_DELIVERY"
	CodeDelivered        = "DELIVERED"
	CodeShipmentOnHold   = "SHIPMENT_ON_HOLD"
	CodeDamageReported   = "DAMAGE_REPORTED"
	CodeDelayReported    = "DELAY_REPORTED"
	CodeLocationUpdate   = "LOCATION_UPDATE"
	CodeStatusUpdate     = "STATUS_UPDATE"
)

// statusByCode maps canonical event codes to the shipment status they derive.
// Codes absent from the table do not influence status derivation.
var statusByCode = map[string]ShipmentStatus{
	CodeShipmentCreated:  StatusCreated,
	CodeBookingConfirmed: StatusBooked,
	CodeCargoCollected:   StatusBooked,
	CodeManifested:       StatusManifested,
	CodeFlightDeparted:   StatusDeparted,
	CodeInTransit:        StatusInTransit,
	CodeFlightArrived:    StatusArrived,
	CodeCustomsStarted:   StatusCustomsClearance,
	CodeCustomsCleared:   StatusCustomsClearance,
	CodeCustomsHold:      StatusOnHold,
	CodeOutForDelivery:   StatusOutForDelivery,
	CodeDelivered:        StatusDelivered,
	CodeShipmentOnHold:   StatusOnHold,
	CodeDamageReported:   StatusException,
	CodeDelayReported:    StatusException,
}

// StatusForCode returns the shipment status derived from an event code, and
// whether the code participates in status derivation at all. A CANCELLED
// status is never produced from tracking events.
func StatusForCode(code string) (ShipmentStatus, bool) {
	status, ok := statusByCode[code]
	return status, ok
}
