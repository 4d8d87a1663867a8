// Command fairsched-dashboard is a live terminal dashboard that polls a
// running Scheduler's Stats() and renders queue depth, per-worker phase,
// and recent timeout escalations using the Elm-architecture pattern
// (Model / Update / View) that bubbletea is built around.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/fairsched/fairsched/internal/simulated"
	"github.com/fairsched/fairsched/scheduler"
)

const refreshInterval = 500 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	deadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type statsMsg scheduler.SchedulerStats

func pollStats(s *scheduler.Scheduler) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(refreshInterval)
		return statsMsg(s.Stats())
	}
}

// workerItem implements list.Item so the worker pool can be rendered through
// bubbles/list rather than a hand-built listing, with the same idle/busy/dead
// styling applied per row via Title.
type workerItem struct {
	name  string
	phase string
	style lipgloss.Style
}

func (i workerItem) Title() string       { return i.style.Render(i.name) }
func (i workerItem) Description() string { return i.phase }
func (i workerItem) FilterValue() string { return i.name }

func workerItems(workers []scheduler.WorkerStats) []list.Item {
	items := make([]list.Item, len(workers))
	for i, w := range workers {
		style := idleStyle
		switch {
		case !w.Alive:
			style = deadStyle
		case w.CurrentExecutor != 0:
			style = busyStyle
		}
		items[i] = workerItem{name: w.Name, phase: w.Phase, style: style}
	}
	return items
}

type model struct {
	sched   *scheduler.Scheduler
	stats   scheduler.SchedulerStats
	workers list.Model
}

func newModel(s *scheduler.Scheduler) model {
	workers := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	workers.Title = "workers"
	workers.SetShowStatusBar(false)
	workers.SetFilteringEnabled(false)
	return model{sched: s, workers: workers}
}

func (m model) Init() tea.Cmd {
	return pollStats(m.sched)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.workers.SetSize(max(40, msg.Width-6), max(6, len(m.stats.Workers)+2))
	case statsMsg:
		m.stats = scheduler.SchedulerStats(msg)
		m.workers.SetItems(workerItems(m.stats.Workers))
		return m, pollStats(m.sched)
	}
	var cmd tea.Cmd
	m.workers, cmd = m.workers.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("fairsched dashboard") + "\n\n")
	fmt.Fprintf(&b, "queue depth: %d    virtual runtime floor: %d ns\n\n",
		m.stats.QueueDepth, m.stats.MinimumVirtualRuntime)

	b.WriteString(boxStyle.Render(m.workers.View()))
	b.WriteString("\n\n")

	if len(m.stats.RecentTimeouts) > 0 {
		b.WriteString(headerStyle.Render("recent timeouts") + "\n")
		start := 0
		if len(m.stats.RecentTimeouts) > 5 {
			start = len(m.stats.RecentTimeouts) - 5
		}
		for _, r := range m.stats.RecentTimeouts[start:] {
			fmt.Fprintf(&b, "  worker=%s executor=%d escalation=%s elapsed=%s corr=%s\n",
				r.WorkerName, r.ExecutorID, r.Escalation, time.Duration(r.ElapsedNanos), r.Correlation)
		}
		b.WriteString("\n")
	}

	b.WriteString(idleStyle.Render("press q to quit"))
	return b.String()
}

func main() {
	s := scheduler.New(4, scheduler.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	seedDemoLoad(s)

	p := tea.NewProgram(newModel(s))
	if _, err := p.Run(); err != nil {
		fmt.Println("fairsched-dashboard:", err)
		os.Exit(1)
	}
}

// seedDemoLoad queues a handful of simulated computers with staggered
// workloads so the dashboard has something to show immediately.
func seedDemoLoad(s *scheduler.Scheduler) {
	for i := int64(1); i <= 6; i++ {
		id := uint64(i)
		n := 20 + rand.Intn(60)
		name := fmt.Sprintf("computer-%d-%s", id, uuid.NewString()[:8])
		c := simulated.New(id, name, int64(n), func(ctx context.Context, comp *simulated.Computer) error {
			time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
			return nil
		})
		_ = s.Queue(c)
	}
}
