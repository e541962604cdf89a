package main

// hwmon pwm*_enable register values (see Documentation/hwmon/sysfs-interface)
const (
	fanModeDisengaged = 0 // no speed control, fan at full speed
	fanModeManual     = 1 // manual duty-cycle control via pwm*
	fanModeAuto       = 2 // hardware automatic control
)

// Fan duty-cycle register range
const (
	fanDutyMin = 0
	fanDutyMax = 255
)

// Sanity bounds for trip-point thresholds (millidegrees Celsius).
// Anything outside this range is a typo, not a configuration choice.
const (
	thresholdMinMilliC = -40000
	thresholdMaxMilliC = 150000
)

// Control loop defaults
const (
	defaultIntervalSec = 2.0
	minIntervalSec     = 0.1

	defaultControlSensor = "/sys/class/hwmon/hwmon0/temp1_input"
	defaultFanModePath   = "/sys/class/hwmon/hwmon1/pwm1_enable"
	defaultFanDutyPath   = "/sys/class/hwmon/hwmon1/pwm1"
	defaultFanTachPath   = "/sys/class/hwmon/hwmon1/fan1_input"
)

// Process exit codes.
// Kept distinct so supervisors can tell a bad config from broken hardware.
const (
	exitOK        = 0
	exitConfig    = 1 // configuration invalid
	exitHardware  = 2 // hardware/capability unavailable
	exitPrivilege = 3 // insufficient privilege
	exitRuntime   = 4 // sensor/actuator I/O failure mid-loop
)
