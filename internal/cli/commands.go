// Package cli implements the interactive admin console: live session and
// lobby inspection plus raw packet injection for protocol debugging.
package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mysticnights/mnserver/internal/config"
	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	store    store.Store
	sessions *session.Registry
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, st store.Store, reg *session.Registry) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		store:    st,
		sessions: reg,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nAdmin console ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("mnserver> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus(ctx)
	case "sessions":
		c.printSessions()
	case "servers":
		return c.printServers(ctx)
	case "channels":
		return c.printChannels(ctx, args)
	case "lobbies":
		return c.printLobbies(ctx, args)
	case "sendhex":
		return c.cmdSendHex(args)
	case "prune":
		return c.cmdPrune(ctx)
	case "quit", "exit", "q":
		fmt.Println("Shutting down...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Admin Console Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show session and lobby totals            ║")
	fmt.Println("║  sessions           List connected clients                   ║")
	fmt.Println("║  servers            List game server directory entries       ║")
	fmt.Println("║  channels [server]  List channels for a server               ║")
	fmt.Println("║  lobbies <channel>  List lobbies in a channel                ║")
	fmt.Println("║  sendhex <hex>      Send raw bytes to every connected client ║")
	fmt.Println("║  prune              Delete lobbies left by a previous run    ║")
	fmt.Println("║  quit               Shutdown the server                      ║")
	fmt.Println("║  help               Show this help message                   ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus shows aggregate counts.
func (c *CLI) printStatus(ctx context.Context) {
	gameplay := 0
	bound := 0
	for _, s := range c.sessions.Snapshot() {
		if s.Gameplay() {
			gameplay++
		}
		if s.PlayerID() != "" {
			bound++
		}
	}

	fmt.Printf("\n  Connections:   %d (%d gameplay)\n", c.sessions.Count(), gameplay)
	fmt.Printf("  Logged in:     %d\n", bound)

	servers, err := c.store.Servers(ctx)
	if err == nil {
		lobbies := 0
		for _, sv := range servers {
			channels, err := c.store.ChannelsForServer(ctx, sv.ID)
			if err != nil {
				continue
			}
			for _, ch := range channels {
				ls, err := c.store.LobbiesForChannel(ctx, ch.ID)
				if err != nil {
					continue
				}
				lobbies += len(ls)
			}
		}
		fmt.Printf("  Lobbies:       %d\n", lobbies)
	}
	fmt.Println()
}

// printSessions lists all connected clients in a table.
func (c *CLI) printSessions() {
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Remote", "Player", "Type", "Connected", "Last Packet"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range c.sessions.Snapshot() {
		kind := "lobby"
		if s.Gameplay() {
			kind = "gameplay"
		}
		player := s.PlayerID()
		if player == "" {
			player = "-"
		}
		tw.Append([]string{
			s.Key(),
			player,
			kind,
			time.Since(s.ConnectedAt()).Round(time.Second).String(),
			time.Since(s.LastPacket()).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) printServers(ctx context.Context) error {
	servers, err := c.store.Servers(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Name", "Address", "Availability"})
	tw.SetBorder(true)

	for _, sv := range servers {
		tw.Append([]string{
			fmt.Sprintf("%d", sv.ID),
			sv.Name,
			sv.Addr,
			fmt.Sprintf("%d", sv.Availability),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) printChannels(ctx context.Context, args []string) error {
	serverID := int64(1)
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid server id: %s", args[0])
		}
		serverID = id
	}

	channels, err := c.store.ChannelsForServer(ctx, serverID)
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Index", "Players"})
	tw.SetBorder(true)

	for _, ch := range channels {
		tw.Append([]string{
			fmt.Sprintf("%d", ch.ID),
			fmt.Sprintf("%d", ch.Index),
			fmt.Sprintf("%d", ch.Players),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) printLobbies(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lobbies <channel id>")
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id: %s", args[0])
	}

	lobbies, err := c.store.LobbiesForChannel(ctx, channelID)
	if err != nil {
		return err
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Slot", "Name", "Players", "Status", "Map", "Seats"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, l := range lobbies {
		var seats []string
		for _, seat := range l.Seats {
			if seat.PlayerID != "" {
				seats = append(seats, seat.PlayerID)
			}
		}
		tw.Append([]string{
			fmt.Sprintf("%d", l.Index),
			l.Name,
			fmt.Sprintf("%d", l.Players),
			fmt.Sprintf("%d", l.Status),
			fmt.Sprintf("%d", l.MapID),
			strings.Join(seats, ", "),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// cmdSendHex broadcasts raw bytes to every connected client. Useful for
// probing unknown packet ids against a live console.
func (c *CLI) cmdSendHex(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sendhex <hex bytes, e.g. ea03040001000100>")
	}

	raw, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	sent := 0
	for _, s := range c.sessions.Snapshot() {
		if err := s.SendRaw(raw); err == nil {
			sent++
		}
	}
	fmt.Printf("Sent %d bytes to %d clients\n", len(raw), sent)
	return nil
}

// cmdPrune deletes lobbies orphaned by a previous run.
func (c *CLI) cmdPrune(ctx context.Context) error {
	keep := c.cfg.GetServerData().LobbyKeepPattern
	n, err := c.store.PruneLobbies(ctx, keep)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d lobbies (kept names matching %q)\n", n, keep)
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct{}

func newLineReader() *lineReader {
	return &lineReader{}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	var line string
	_, err := fmt.Scanln(&line)
	return line, err
}
