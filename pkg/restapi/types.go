package restapi

// Reply status values
const (
	StatusOK = "OK"
	StatusKO = "KO"
)

// RobotReply is the body of every /api/ command endpoint.
type RobotReply struct {
	Status  string                 `json:"status"`
	Robot   map[string]interface{} `json:"robot,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// MoveRequest is the body of POST /api/move/.
type MoveRequest struct {
	LeftOrientation  string   `json:"left_orientation"`
	LeftSpeed        float64  `json:"left_speed"`
	RightOrientation string   `json:"right_orientation"`
	RightSpeed       float64  `json:"right_speed"`
	Duration         float64  `json:"duration"`
	Distance         *float64 `json:"distance"`
}

// LightRequest is the body of POST /api/set_light/.
type LightRequest struct {
	LeftOn  bool `json:"left_on"`
	RightOn bool `json:"right_on"`
}

// MoveArmRequest is the body of POST /api/move_arm/.
type MoveArmRequest struct {
	ID        string  `json:"id"`
	Angle     float64 `json:"angle"`
	LockWrist bool    `json:"lock_wrist"`
}

// MoveToTargetRequest is the body of POST /api/move_to_target/.
type MoveToTargetRequest struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Speed   float64 `json:"speed"`
	Timeout float64 `json:"timeout"`
}

// SayRequest is the body of POST /api/say/.
type SayRequest struct {
	Text string `json:"text"`
}

// WifiNetwork is one scanned network.
type WifiNetwork struct {
	InUse    bool   `json:"in_use"`
	SSID     string `json:"ssid"`
	BSSID    string `json:"bssid"`
	Mode     string `json:"mode"`
	Channel  int    `json:"chan"`
	Freq     int    `json:"freq"`
	Rate     int    `json:"rate"`
	Signal   int    `json:"signal"`
	Security string `json:"security"`
	Saved    bool   `json:"saved"`
}

// Secured reports whether joining the network needs a password.
func (n WifiNetwork) Secured() bool {
	return n.Security != ""
}

// WifiStatus is the state of the robot wifi device.
type WifiStatus struct {
	State      string  `json:"state"`
	Connection *string `json:"connection"`
	Hotspot    bool    `json:"hotspot"`
	Signal     int     `json:"signal"`
}

// WifiState is the body of GET /api/v1/wifi.
type WifiState struct {
	Networks []WifiNetwork `json:"networks"`
	Status   WifiStatus    `json:"status"`
}

// WifiRequest is the body of POST and DELETE /api/v1/wifi. A POST with a
// nil SSID and no hotspot flag restarts the wifi radio.
type WifiRequest struct {
	SSID     *string `json:"ssid"`
	Password *string `json:"password,omitempty"`
	Hotspot  bool    `json:"hotspot,omitempty"`
}

// Media is one gallery entry.
type Media struct {
	Filename  string `json:"filename"`
	RobotName string `json:"robot_name"`
	Source    string `json:"source"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}
