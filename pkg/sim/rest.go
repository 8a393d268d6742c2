package sim

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/restapi"
)

const blankField = "This field may not be blank."

func (s *Server) registerRoutes(api fiber.Router) {
	api.Get("/status/", s.getStatus)
	api.Post("/move/", s.postMove)
	api.Post("/stop/", s.postStop)
	api.Post("/set_light/", s.postSetLight)
	api.Post("/move_arm/", s.postMoveArm)
	api.Post("/capture_image/", s.postCaptureImage)
	api.Post("/move_to_target/", s.postMoveToTarget)
	api.Post("/say/", s.postSay)

	v1 := api.Group("/v1")
	v1.Get("/wifi", s.getWifi)
	v1.Post("/wifi", s.postWifi)
	v1.Delete("/wifi", s.deleteWifi)
	v1.Get("/pictures", func(c *fiber.Ctx) error { return c.JSON(s.robot.Pictures()) })
	v1.Get("/videos", func(c *fiber.Ctx) error { return c.JSON(s.robot.Videos()) })
}

func (s *Server) ok(c *fiber.Ctx) error {
	return c.JSON(restapi.RobotReply{Status: restapi.StatusOK, Robot: s.robot.Serialize()})
}

func ko(c *fiber.Ctx, err error) error {
	return c.JSON(restapi.RobotReply{Status: restapi.StatusKO, Message: err.Error()})
}

// fieldErrors answers 400 with a field to messages map.
func fieldErrors(c *fiber.Ctx, errs map[string][]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errs)
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	return s.ok(c)
}

func (s *Server) postMove(c *fiber.Ctx) error {
	var req restapi.MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	errs := make(map[string][]string)
	checkOrientation := func(field, value string) {
		if value != string(protocol.Forward) && value != string(protocol.Backward) {
			errs[field] = append(errs[field], "\""+value+"\" is not a valid choice.")
		}
	}
	checkSpeed := func(field string, value float64) {
		if value < 0 || value > 100 {
			errs[field] = append(errs[field], "Ensure this value is between 0 and 100.")
		}
	}
	checkOrientation("left_orientation", req.LeftOrientation)
	checkOrientation("right_orientation", req.RightOrientation)
	checkSpeed("left_speed", req.LeftSpeed)
	checkSpeed("right_speed", req.RightSpeed)
	if req.Duration < 0 {
		errs["duration"] = append(errs["duration"], "Ensure this value is greater than or equal to 0.")
	}
	if len(errs) > 0 {
		return fieldErrors(c, errs)
	}

	result := s.robot.Apply(protocol.DriveMove{DriveCommand: protocol.DriveCommand{
		LeftOrientation:  protocol.Orientation(req.LeftOrientation),
		LeftSpeed:        req.LeftSpeed,
		RightOrientation: protocol.Orientation(req.RightOrientation),
		RightSpeed:       req.RightSpeed,
		Duration:         req.Duration,
		Distance:         req.Distance,
	}})
	if result.PushStatus {
		s.BroadcastStatus()
	}
	return s.ok(c)
}

func (s *Server) postStop(c *fiber.Ctx) error {
	s.robot.Apply(protocol.DriveStop{})
	s.BroadcastStatus()
	return s.ok(c)
}

func (s *Server) postSetLight(c *fiber.Ctx) error {
	var req restapi.LightRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.robot.SetLight(req.LeftOn, req.RightOn); err != nil {
		return ko(c, err)
	}
	s.BroadcastStatus()
	return s.ok(c)
}

func (s *Server) postMoveArm(c *fiber.Ctx) error {
	var req restapi.MoveArmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.ID == "" {
		return fieldErrors(c, map[string][]string{"id": {blankField}})
	}
	if err := s.robot.MoveArm(req); err != nil {
		return ko(c, err)
	}
	return s.ok(c)
}

func (s *Server) postCaptureImage(c *fiber.Ctx) error {
	media := s.robot.CapturePicture()
	s.logger.Infof("Captured %s", media.Filename)
	return s.ok(c)
}

func (s *Server) postMoveToTarget(c *fiber.Ctx) error {
	var req restapi.MoveToTargetRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.robot.MoveToTarget(req); err != nil {
		return ko(c, err)
	}
	s.BroadcastStatus()
	return s.ok(c)
}

func (s *Server) postSay(c *fiber.Ctx) error {
	var req restapi.SayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return fieldErrors(c, map[string][]string{"text": {blankField}})
	}
	s.robot.Say(req.Text)
	return s.ok(c)
}

func (s *Server) getWifi(c *fiber.Ctx) error {
	return c.JSON(s.robot.Wifi())
}

func (s *Server) postWifi(c *fiber.Ctx) error {
	var req restapi.WifiRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	switch {
	case req.Hotspot:
		s.robot.StartHotspot()
	case req.SSID == nil:
		s.robot.StartWifi()
	default:
		if err := s.robot.ConnectWifi(*req.SSID, req.Password); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(fiber.Map{"status": restapi.StatusOK})
}

func (s *Server) deleteWifi(c *fiber.Ctx) error {
	var req restapi.WifiRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.SSID == nil || *req.SSID == "" {
		return fieldErrors(c, map[string][]string{"ssid": {blankField}})
	}
	if err := s.robot.ForgetWifi(*req.SSID); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(fiber.Map{"status": restapi.StatusOK})
}
