package model

// DeliveryReport is one inbound DLR callback from the gateway. GatewayID
// and Status are mandatory; everything else is whatever the gateway chose
// to echo back.
type DeliveryReport struct {
	GatewayID string
	Status    string
	Error     string
	MSISDN    string
	UserRef   string
	Time      int64
}
