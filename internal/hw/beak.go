package hw

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// Servo calibration for the beak linkage. Degrees outside this window hit
// the housing.
const (
	beakChannel  = 0
	beakCloseDeg = 6
	beakOpenDeg  = 102
	beakMinPwm   = gpio.Duty(900)
	beakMaxPwm   = gpio.Duty(2000)
)

// ServoBeak drives the jaw servo through a PCA9685 on the default I2C bus.
type ServoBeak struct {
	servo *pca9685.Servo
}

func NewServoBeak() (*ServoBeak, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	dev, err := pca9685.NewI2C(b, pca9685.I2CAddr)
	if err != nil {
		return nil, fmt.Errorf("init pca9685: %w", err)
	}
	group := pca9685.NewServoGroup(dev, beakMinPwm, beakMaxPwm, 0, 180*physic.Degree)
	s := &ServoBeak{servo: group.GetServo(beakChannel)}
	if err := s.Set(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ServoBeak) Set(pos float64) error {
	pos = clamp01(pos)
	deg := beakCloseDeg + pos*(beakOpenDeg-beakCloseDeg)
	if err := s.servo.SetAngle(physic.Angle(deg) * physic.Degree); err != nil {
		return fmt.Errorf("servo set angle: %w", err)
	}
	return nil
}

func (s *ServoBeak) Close() error {
	return s.Set(0)
}
