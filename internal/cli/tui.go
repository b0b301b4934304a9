package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sketchmaster/sketchbot/pkg/users"
)

// List styles
var (
	listDimStyle     = lipgloss.NewStyle().Foreground(colorFaint)
	tableHeaderStyle = lipgloss.NewStyle().Foreground(colorMuted).Bold(true)
)

// headerRow is the row index lipgloss/table passes to StyleFunc for headers.
const headerRow = -1

// =============================================================================
// UserListModel - Interactive user browser
// =============================================================================

// Sort orders, cycled with "s".
const (
	sortByImages = iota
	sortByActive
	sortByID
	sortOrders
)

var sortNames = [sortOrders]string{"images", "last active", "id"}

// UserListModel is the bubbletea model for browsing users.
type UserListModel struct {
	Users  []users.User
	Cursor int
	Height int
	Offset int
	Sort   int
	Now    time.Time
}

// NewUserListModel creates a user list sorted by images processed.
func NewUserListModel(list []users.User, now time.Time) UserListModel {
	m := UserListModel{
		Users:  slices.Clone(list),
		Height: 15,
		Now:    now,
	}
	m.sort()
	return m
}

func (m *UserListModel) sort() {
	slices.SortStableFunc(m.Users, func(a, b users.User) int {
		switch m.Sort {
		case sortByImages:
			if c := cmp.Compare(b.ImagesProcessed, a.ImagesProcessed); c != 0 {
				return c
			}
		case sortByActive:
			if c := b.LastActive.Compare(a.LastActive); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (m UserListModel) Init() tea.Cmd {
	return nil
}

func (m UserListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Users)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "s":
			m.Users = slices.Clone(m.Users)
			m.Sort = (m.Sort + 1) % sortOrders
			m.sort()
			m.Cursor, m.Offset = 0, 0
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-8, 5)
	}
	return m, nil
}

func (m UserListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Users"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  s sort (" + sortNames[m.Sort] + ")  q quit"))
	b.WriteString("\n\n")

	end := min(m.Offset+m.Height, len(m.Users))
	rows := make([][]string, 0, end-m.Offset)
	for i := m.Offset; i < end; i++ {
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, append([]string{cursor}, userRow(m.Users[i], m.Now)...))
	}

	t := userTable(rows, true).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == headerRow {
				return tableHeaderStyle
			}
			idx := m.Offset + row
			if idx >= len(m.Users) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			if !isActive(m.Users[idx], m.Now) {
				base = base.Foreground(colorFaint)
			}
			if idx == m.Cursor {
				return base.Foreground(colorAccent).Bold(true)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	if len(m.Users) == 0 {
		b.WriteString(listDimStyle.Render("  no users yet"))
	} else {
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Users))))
	}

	return b.String()
}

// =============================================================================
// Plain Table
// =============================================================================

// writeUserTable renders all users as a static table sorted by ID.
func writeUserTable(w io.Writer, list []users.User, now time.Time) error {
	rows := make([][]string, len(list))
	for i, u := range list {
		rows[i] = userRow(u, now)
	}
	t := userTable(rows, false).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == headerRow {
				return tableHeaderStyle
			}
			return lipgloss.NewStyle()
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func userTable(rows [][]string, withCursor bool) *table.Table {
	headers := []string{"ID", "Username", "Images", "First seen", "Last active"}
	if withCursor {
		headers = append([]string{""}, headers...)
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorFaint)).
		Headers(headers...).
		Rows(rows...)
}

func userRow(u users.User, now time.Time) []string {
	name := u.Username
	if name == "" {
		name = "—"
	}
	return []string{
		strconv.FormatInt(u.ID, 10),
		name,
		strconv.FormatInt(u.ImagesProcessed, 10),
		u.FirstSeen.Format("Jan 2, 2006"),
		formatRelativeTime(u.LastActive, now),
	}
}

func isActive(u users.User, now time.Time) bool {
	return u.LastActive.After(now.Add(-users.ActiveWindow))
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "—"
	}
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
