package main

// ============================================================================
// thermgov-top - Live Thermal Monitor
// ============================================================================
// Read-only companion TUI for thermgovd. Reads the same sensor and fan
// registers the daemon drives and shows them live, together with the
// configured trip thresholds. Never writes to any control surface, so it is
// safe to run alongside the daemon.
//
// Usage:
//   thermgov-top -config /etc/thermgovd.yml
//
// Options:
//   -config PATH      thermgovd YAML config (paths and trip points are read
//                     from it; defaults used when omitted)
//   -interval FLOAT   refresh interval in seconds (default 1.0)
// ============================================================================

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

const version = "1.0.0"

const (
	defaultControlSensor = "/sys/class/hwmon/hwmon0/temp1_input"
	defaultFanModePath   = "/sys/class/hwmon/hwmon1/pwm1_enable"
	defaultFanDutyPath   = "/sys/class/hwmon/hwmon1/pwm1"
	defaultFanTachPath   = "/sys/class/hwmon/hwmon1/fan1_input"
)

// Config subset (duplicated from the daemon binary; only the read paths and
// trip thresholds matter here, unknown keys are ignored).
type monitorConfig struct {
	Sensor struct {
		Control string   `yaml:"control"`
		Aux     []string `yaml:"aux"`
	} `yaml:"sensor"`
	Fan struct {
		Mode string `yaml:"mode"`
		Duty string `yaml:"duty"`
		Tach string `yaml:"tach"`
	} `yaml:"fan"`
	TripPoints []struct {
		ThresholdMilliC int    `yaml:"threshold_millic"`
		Fan             string `yaml:"fan"`
		PState          string `yaml:"pstate"`
	} `yaml:"trip_points"`
}

func defaultMonitorConfig() monitorConfig {
	var cfg monitorConfig
	cfg.Sensor.Control = defaultControlSensor
	cfg.Fan.Mode = defaultFanModePath
	cfg.Fan.Duty = defaultFanDutyPath
	cfg.Fan.Tach = defaultFanTachPath
	return cfg
}

func loadMonitorConfig(path string) (monitorConfig, error) {
	cfg := defaultMonitorConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config yaml: %w", err)
	}
	return cfg, nil
}

// ── Sampling ─────────────────────────────────────────────────────────

// snapshot is one refresh worth of register reads. Nil pointers mean the
// read failed; the view renders those as "--".
type snapshot struct {
	controlMilliC *int
	aux           []auxSample
	fanMode       *int
	fanDuty       *int
	fanTach       *int
	time          time.Time
}

type auxSample struct {
	path   string
	milliC *int
}

func readIntFile(path string) *int {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}
	return &v
}

func takeSnapshot(cfg monitorConfig) snapshot {
	s := snapshot{
		controlMilliC: readIntFile(cfg.Sensor.Control),
		fanMode:       readIntFile(cfg.Fan.Mode),
		fanDuty:       readIntFile(cfg.Fan.Duty),
		fanTach:       readIntFile(cfg.Fan.Tach),
		time:          time.Now(),
	}
	for _, path := range cfg.Sensor.Aux {
		s.aux = append(s.aux, auxSample{path: path, milliC: readIntFile(path)})
	}
	return s
}

// ── Messages ─────────────────────────────────────────────────────────

type tickMsg time.Time

type snapshotMsg snapshot

// ── Model ────────────────────────────────────────────────────────────

var (
	colorTitleBg = lipgloss.Color("17")
	colorTitleFg = lipgloss.Color("51")
	colorBorder  = lipgloss.Color("62")
	colorLabel   = lipgloss.Color("252")
	colorDim     = lipgloss.Color("240")
	colorValue   = lipgloss.Color("250")
	colorActive  = lipgloss.Color("214")
	colorHot     = lipgloss.Color("196")
	colorOK      = lipgloss.Color("114")
)

type model struct {
	cfg      monitorConfig
	interval time.Duration
	snap     snapshot
	width    int
	height   int
	paused   bool
}

func initModel(cfg monitorConfig, interval time.Duration) model {
	return model{cfg: cfg, interval: interval, snap: takeSnapshot(cfg)}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) pollCmd() tea.Cmd {
	cfg := m.cfg
	return func() tea.Msg {
		return snapshotMsg(takeSnapshot(cfg))
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), m.tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if m.paused {
			return m, m.tickCmd()
		}
		return m, tea.Batch(m.pollCmd(), m.tickCmd())

	case snapshotMsg:
		m.snap = snapshot(msg)
	}

	return m, nil
}

// ── View ─────────────────────────────────────────────────────────────

func fmtMilliC(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%.1f°C", float64(*v)/1000.0)
}

func fmtInt(v *int) string {
	if v == nil {
		return "--"
	}
	return strconv.Itoa(*v)
}

func fanModeName(v *int) string {
	if v == nil {
		return "--"
	}
	switch *v {
	case 0:
		return "disengaged"
	case 1:
		return "manual"
	case 2:
		return "auto"
	default:
		return strconv.Itoa(*v)
	}
}

// activeBand returns the index (1-based) of the highest configured trip
// whose threshold the reading meets, or 0 at baseline. This mirrors what
// the daemon targets, before debounce.
func (m model) activeBand() int {
	if m.snap.controlMilliC == nil {
		return 0
	}
	v := *m.snap.controlMilliC
	for i := len(m.cfg.TripPoints); i >= 1; i-- {
		if v >= m.cfg.TripPoints[i-1].ThresholdMilliC {
			return i
		}
	}
	return 0
}

func (m model) View() string {
	if m.width == 0 {
		return "  Loading..."
	}

	contentWidth := m.width - 2
	if contentWidth < 40 {
		contentWidth = 40
	}

	var sections []string
	sections = append(sections, m.renderTitle(contentWidth))
	sections = append(sections, m.renderSensors(contentWidth))
	sections = append(sections, m.renderFan(contentWidth))
	if len(m.cfg.TripPoints) > 0 {
		sections = append(sections, m.renderTrips(contentWidth))
	}
	sections = append(sections, m.renderFooter(contentWidth))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) renderTitle(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("THERMGOV TOP")

	status := ""
	if m.paused {
		status = lipgloss.NewStyle().Foreground(colorActive).Render("  PAUSED")
	}

	right := lipgloss.NewStyle().
		Foreground(colorDim).
		Render(m.snap.time.Format("15:04:05")) + status

	gap := width - lipgloss.Width(logo) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m model) renderSensors(width int) string {
	labelS := lipgloss.NewStyle().Foreground(colorLabel).Width(14)
	valueS := lipgloss.NewStyle().Foreground(colorValue).Bold(true).Width(10)
	pathS := lipgloss.NewStyle().Foreground(colorDim)

	var rows []string
	rows = append(rows,
		labelS.Render("control")+
			valueS.Render(fmtMilliC(m.snap.controlMilliC))+
			pathS.Render(m.cfg.Sensor.Control))
	for _, a := range m.snap.aux {
		rows = append(rows,
			labelS.Render("aux")+
				valueS.Render(fmtMilliC(a.milliC))+
				pathS.Render(a.path))
	}

	return m.panel("TEMPERATURES", rows, width)
}

func (m model) renderFan(width int) string {
	labelS := lipgloss.NewStyle().Foreground(colorLabel).Width(14)
	valueS := lipgloss.NewStyle().Foreground(colorValue).Bold(true).Width(10)

	duty := fmtInt(m.snap.fanDuty)
	if m.snap.fanDuty != nil {
		duty = fmt.Sprintf("%d/255", *m.snap.fanDuty)
	}
	tach := fmtInt(m.snap.fanTach)
	if m.snap.fanTach != nil {
		tach = fmt.Sprintf("%d rpm", *m.snap.fanTach)
	}

	rows := []string{
		labelS.Render("mode") + valueS.Render(fanModeName(m.snap.fanMode)),
		labelS.Render("duty") + valueS.Render(duty),
		labelS.Render("tach") + valueS.Render(tach),
	}

	return m.panel("FAN", rows, width)
}

func (m model) renderTrips(width int) string {
	band := m.activeBand()

	baseS := lipgloss.NewStyle().Foreground(colorValue)
	activeS := lipgloss.NewStyle().Foreground(colorHot).Bold(true)
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	okS := lipgloss.NewStyle().Foreground(colorOK).Bold(true)

	var rows []string

	baseline := fmt.Sprintf("%-8s below %s", "baseline",
		fmtMilliC(&m.cfg.TripPoints[0].ThresholdMilliC))
	if band == 0 {
		rows = append(rows, okS.Render("▶ "+baseline))
	} else {
		rows = append(rows, dimS.Render("  "+baseline))
	}

	for i, tp := range m.cfg.TripPoints {
		setting := ""
		if tp.Fan != "" {
			setting += "  fan=" + tp.Fan
		}
		if tp.PState != "" {
			setting += "  pstate=" + tp.PState
		}
		threshold := tp.ThresholdMilliC
		line := fmt.Sprintf("%-8s at %s%s",
			fmt.Sprintf("trip %d", i+1), fmtMilliC(&threshold), setting)
		if band == i+1 {
			rows = append(rows, activeS.Render("▶ "+line))
		} else {
			rows = append(rows, baseS.Render("  "+dimS.Render(line)))
		}
	}

	return m.panel("TRIP POINTS", rows, width)
}

func (m model) panel(title string, rows []string, width int) string {
	titleRow := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorDim).
		Render(title)
	content := lipgloss.JoinVertical(lipgloss.Left, append([]string{titleRow}, rows...)...)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(content)
}

func (m model) renderFooter(width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)

	keys := dimS.Render("q") + keyS.Render(":quit") +
		dimS.Render("  space") + keyS.Render(":pause")

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		Render(keys)
}

// ── Main ─────────────────────────────────────────────────────────────

func printVersion() {
	fmt.Printf("thermgov-top v%s\n", version)
	fmt.Println("Live read-only monitor for the thermgovd thermal governor")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  thermgov-top [-config /etc/thermgovd.yml] [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        thermgovd YAML configuration file; sensor and fan paths and")
	fmt.Println("        trip thresholds are taken from it (built-in defaults if omitted)")
	fmt.Println()
	fmt.Println("  -interval float")
	fmt.Println("        Refresh interval in seconds (default 1.0)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
}

func main() {
	var (
		configPath  = flag.String("config", "", "thermgovd YAML configuration file")
		intervalSec = flag.Float64("interval", 1.0, "Refresh interval in seconds")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := defaultMonitorConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadMonitorConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	if *intervalSec < 0.1 {
		fmt.Fprintln(os.Stderr, "error: -interval must be at least 0.1 seconds")
		os.Exit(1)
	}
	interval := time.Duration(*intervalSec * float64(time.Second))

	p := tea.NewProgram(
		initModel(cfg, interval),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
