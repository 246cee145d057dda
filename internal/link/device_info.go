package link

// DeviceInfo describes a tracker connection on the TCP ingest.
type DeviceInfo struct {
	DeviceID   string
	RemoteIP   string
	RemotePort int
	State      DeviceState
}

type devicePayload struct {
	DeviceConnect    bool   `json:"device_connect,omitempty"`
	DeviceDisconnect bool   `json:"device_disconnect,omitempty"`
	DeviceID         string `json:"device_id"`
	RemoteIP         string `json:"remote_ip,omitempty"`
	RemotePort       int    `json:"remote_port,omitempty"`
}

func (d DeviceInfo) payload() devicePayload {
	return devicePayload{
		DeviceConnect:    d.State == DeviceStateConnect,
		DeviceDisconnect: d.State == DeviceStateDisconnect,
		DeviceID:         d.DeviceID,
		RemoteIP:         d.RemoteIP,
		RemotePort:       d.RemotePort,
	}
}
