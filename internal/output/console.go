package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/UTBM-Alison/vital-connect/internal/models"

	"github.com/muesli/termenv"
	"go.uber.org/zap"
)

const (
	compactTrackLimit = 5
	consoleTimeLayout = "2006-01-02T15:04:05"
)

// ConsoleOutput 控制台输出
type ConsoleOutput struct {
	w         io.Writer
	verbose   bool
	colorized bool
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewConsoleOutput 创建控制台输出
func NewConsoleOutput(w io.Writer, verbose, colorized bool, logger *zap.Logger) *ConsoleOutput {
	return &ConsoleOutput{
		w:         w,
		verbose:   verbose,
		colorized: colorized,
		logger:    logger,
	}
}

func (c *ConsoleOutput) Name() string {
	return "console"
}

func (c *ConsoleOutput) Initialize(ctx context.Context) error {
	c.logger.Debug("Console output initialized",
		zap.Bool("verbose", c.verbose),
		zap.Bool("colorized", c.colorized),
	)
	return nil
}

// Send 渲染批次并一次性写出
func (c *ConsoleOutput) Send(batch *models.ProcessedBatch) error {
	var buf bytes.Buffer
	if c.verbose {
		c.renderVerbose(&buf, batch)
	} else {
		c.renderCompact(&buf, batch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write console output: %w", err)
	}
	return nil
}

func (c *ConsoleOutput) Close() error {
	return nil
}

func (c *ConsoleOutput) renderCompact(buf *bytes.Buffer, batch *models.ProcessedBatch) {
	header := fmt.Sprintf("[%s] 🏥 Vital Update - %d tracks",
		batch.Timestamp.Local().Format(consoleTimeLayout), len(batch.AllTracks))
	fmt.Fprintln(buf, c.paint(header, nil, true, false))

	shown := len(batch.AllTracks)
	if shown > compactTrackLimit {
		shown = compactTrackLimit
	}
	for _, track := range batch.AllTracks[:shown] {
		fmt.Fprintf(buf, "  %s %s %s %s\n",
			c.paint(track.Name+":", termenv.ANSICyan, false, false),
			track.DisplayValue,
			track.Unit,
			c.paint("("+track.RoomName+")", nil, false, true),
		)
	}

	if rest := len(batch.AllTracks) - compactTrackLimit; rest > 0 {
		fmt.Fprintf(buf, "  %s\n", c.paint(fmt.Sprintf("... and %d more tracks", rest), nil, false, true))
	}
}

func (c *ConsoleOutput) renderVerbose(buf *bytes.Buffer, batch *models.ProcessedBatch) {
	rule := c.paint(strings.Repeat("━", 60), termenv.ANSICyan, false, false)
	fmt.Fprintln(buf, rule)
	fmt.Fprintln(buf, c.paint("🏥 VITAL SIGNS UPDATE", nil, true, false))
	fmt.Fprintln(buf, rule)

	if batch.VRCode != nil {
		fmt.Fprintf(buf, "%s %s\n", c.label("VR Code:"), *batch.VRCode)
	}
	fmt.Fprintf(buf, "%s %s\n", c.label("Timestamp:"), batch.Timestamp.Local().Format(consoleTimeLayout))
	fmt.Fprintf(buf, "%s %d\n\n", c.label("Total Tracks:"), len(batch.AllTracks))

	for _, room := range batch.Rooms {
		if len(room.Tracks) == 0 {
			continue
		}
		fmt.Fprintln(buf, c.paint("📍 "+room.RoomName, termenv.ANSIMagenta, false, false))
		fmt.Fprintln(buf, c.paint(strings.Repeat("─", 50), nil, false, true))
		for _, track := range room.Tracks {
			fmt.Fprintf(buf, "  %s %s\n", kindIcon(track.Kind), c.paint(track.Name, termenv.ANSIGreen, false, false))
			fmt.Fprintf(buf, "     %s %s\n",
				c.paint(track.DisplayValue, nil, true, false),
				c.paint(track.Unit, termenv.ANSIBlue, false, false),
			)
			fmt.Fprintf(buf, "     %s\n",
				c.paint("Time: "+track.Timestamp.Local().Format(consoleTimeLayout), nil, false, true))
		}
		fmt.Fprintln(buf)
	}
}

func (c *ConsoleOutput) label(s string) string {
	return c.paint(s, termenv.ANSIYellow, false, false)
}

// paint 未开启颜色时原样返回
func (c *ConsoleOutput) paint(s string, fg termenv.Color, bold, faint bool) string {
	if !c.colorized {
		return s
	}
	style := termenv.String(s)
	if fg != nil {
		style = style.Foreground(fg)
	}
	if bold {
		style = style.Bold()
	}
	if faint {
		style = style.Faint()
	}
	return style.String()
}

func kindIcon(kind models.TrackKind) string {
	switch kind {
	case models.KindWaveform:
		return "📊"
	case models.KindNumber:
		return "🔢"
	case models.KindString:
		return "📝"
	default:
		return "📌"
	}
}
