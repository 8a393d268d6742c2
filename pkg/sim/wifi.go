package sim

import (
	"fmt"

	"github.com/marchandivan/pirobot/pkg/restapi"
)

const hotspotConnection = "Hotspot"

type wifiState struct {
	networks []restapi.WifiNetwork
	current  string
	hotspot  bool
}

func newWifiState() wifiState {
	return wifiState{
		networks: []restapi.WifiNetwork{
			{InUse: true, SSID: "pirobot-home", BSSID: "A0:04:60:89:FA:5E", Mode: "Infra", Channel: 36, Freq: 5180, Rate: 405, Signal: 69, Security: "WPA2", Saved: true},
			{SSID: "pirobot-lab", BSSID: "10:86:8C:23:9C:06", Mode: "Infra", Channel: 1, Freq: 2412, Rate: 195, Signal: 42, Security: "WPA1 WPA2"},
			{SSID: "guest", BSSID: "D4:B9:2F:13:08:2F", Mode: "Infra", Channel: 11, Freq: 2462, Rate: 130, Signal: 18, Security: ""},
		},
		current: "pirobot-home",
	}
}

func (w *wifiState) find(ssid string) int {
	for i := range w.networks {
		if w.networks[i].SSID == ssid {
			return i
		}
	}
	return -1
}

func (w *wifiState) setInUse(ssid string) {
	for i := range w.networks {
		w.networks[i].InUse = w.networks[i].SSID == ssid
	}
}

// Wifi returns the scanned networks and the device status.
func (r *Robot) Wifi() restapi.WifiState {
	r.mu.Lock()
	defer r.mu.Unlock()

	networks := make([]restapi.WifiNetwork, len(r.wifi.networks))
	copy(networks, r.wifi.networks)

	status := restapi.WifiStatus{State: "disconnected"}
	switch {
	case r.wifi.hotspot:
		connection := hotspotConnection
		status = restapi.WifiStatus{State: "connected", Connection: &connection, Hotspot: true, Signal: 100}
	case r.wifi.current != "":
		connection := r.wifi.current
		status = restapi.WifiStatus{State: "connected", Connection: &connection}
		if i := r.wifi.find(connection); i >= 0 {
			status.Signal = r.wifi.networks[i].Signal
		}
	}
	return restapi.WifiState{Networks: networks, Status: status}
}

// ConnectWifi joins a network. Unsaved secured networks need a password.
func (r *Robot) ConnectWifi(ssid string, password *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.wifi.find(ssid)
	if i < 0 {
		return fmt.Errorf("network %q not found", ssid)
	}
	network := &r.wifi.networks[i]
	if network.Secured() && !network.Saved && (password == nil || *password == "") {
		return fmt.Errorf("password required for %q", ssid)
	}
	network.Saved = true
	r.wifi.current = ssid
	r.wifi.hotspot = false
	r.wifi.setInUse(ssid)
	return nil
}

// StartHotspot switches to hotspot mode.
func (r *Robot) StartHotspot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wifi.hotspot = true
	r.wifi.current = ""
	r.wifi.setInUse("")
}

// StartWifi leaves hotspot mode and rejoins the first saved network.
func (r *Robot) StartWifi() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wifi.hotspot = false
	r.wifi.current = ""
	for _, network := range r.wifi.networks {
		if network.Saved {
			r.wifi.current = network.SSID
			break
		}
	}
	r.wifi.setInUse(r.wifi.current)
}

// ForgetWifi deletes a saved network.
func (r *Robot) ForgetWifi(ssid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.wifi.find(ssid)
	if i < 0 || !r.wifi.networks[i].Saved {
		return fmt.Errorf("no saved connection for %q", ssid)
	}
	r.wifi.networks[i].Saved = false
	if r.wifi.current == ssid {
		r.wifi.current = ""
		r.wifi.setInUse("")
	}
	return nil
}
