/*
Copyright © 2024 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	imgview "github.com/blacktop/go-imgview"
	"github.com/blacktop/go-imgview/pkg/csi"
	"github.com/blacktop/go-imgview/pkg/fetch"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Config carries the defaults read from ~/.config/imgview/config.toml.
// Flags given on the command line win over config values.
type Config struct {
	Protocol  string `toml:"protocol"`
	Scale     string `toml:"scale"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	Dither    bool   `toml:"dither"`
	Grayscale bool   `toml:"grayscale"`
	Tint      string `toml:"tint"`
}

var (
	verbose bool
	cfgFile string

	flagWidth           int
	flagHeight          int
	flagScale           string
	flagProtocol        string
	flagMode            string
	flagTint            string
	flagPlaceholder     string
	flagPlaceholderTint string
	flagPlaceholderURL  string
	flagResizable       bool
	flagGrayscale       bool
	flagDither          bool
	flagClear           bool
	flagDetect          bool
	flagVirtual         bool
	flagX               int
	flagY               int
	flagImageID         string
	flagTransferOnly    bool
)

func init() {
	log.SetHandler(clihander.Default)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable verbose logging")
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/imgview/config.toml)")
	rootCmd.Flags().IntVarP(&flagWidth, "width", "W", 0, "Width in character cells")
	rootCmd.Flags().IntVarP(&flagHeight, "height", "H", 0, "Height in character cells")
	rootCmd.Flags().StringVarP(&flagScale, "scale", "s", "", "Scale mode (none, fit, fill, stretch)")
	rootCmd.Flags().StringVarP(&flagProtocol, "protocol", "p", "", "Protocol (kitty, iterm2, sixel, halfblocks)")
	rootCmd.Flags().StringVarP(&flagMode, "mode", "m", "", "Rendering mode (original, template)")
	rootCmd.Flags().StringVar(&flagTint, "tint", "", "Tint color as #RRGGBB, forces template rendering")
	rootCmd.Flags().StringVar(&flagPlaceholder, "placeholder", "", "Local placeholder image for remote sources")
	rootCmd.Flags().StringVar(&flagPlaceholderTint, "placeholder-tint", "", "Placeholder tint as #RRGGBB")
	rootCmd.Flags().StringVar(&flagPlaceholderURL, "placeholder-url", "", "Remote placeholder URL for remote sources")
	rootCmd.Flags().BoolVar(&flagResizable, "resizable", true, "Scale to the requested box instead of the intrinsic size")
	rootCmd.Flags().BoolVarP(&flagGrayscale, "grayscale", "g", false, "Render in grayscale")
	rootCmd.Flags().BoolVarP(&flagDither, "dither", "d", false, "Apply Floyd-Steinberg dithering")
	rootCmd.Flags().BoolVarP(&flagClear, "clear", "c", false, "Clear the image after displaying it")
	rootCmd.Flags().BoolVar(&flagDetect, "detect", false, "Detect and print terminal graphics support")
	rootCmd.Flags().BoolVar(&flagVirtual, "virtual", false, "Use kitty virtual placement with Unicode placeholders")
	rootCmd.Flags().IntVar(&flagX, "x", -1, "Column for virtual placement (0-based, requires --virtual)")
	rootCmd.Flags().IntVar(&flagY, "y", -1, "Row for virtual placement (0-based, requires --virtual)")
	rootCmd.Flags().StringVar(&flagImageID, "image-id", "", "Explicit kitty image ID for virtual placement")
	rootCmd.Flags().BoolVar(&flagTransferOnly, "transfer-only", false, "Emit the image transfer without the placeholder cells")
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgview [IMAGE or URL]",
	Short: "Present images in your terminal.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		if flagDetect {
			printDetection()
			return
		}

		if len(args) == 0 {
			log.Fatal("an image path or URL is required")
		}

		cfg, err := loadConfig(cfgFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		applyConfig(cmd, cfg)

		opts, err := buildOptions()
		if err != nil {
			log.Fatalf("Invalid options: %v", err)
		}

		src, err := buildSource(args[0])
		if err != nil {
			log.Fatalf("Failed to open image: %v", err)
		}

		if isRemote(args[0]) {
			loader := fetch.New()
			defer loader.Close()
			opts.Loader = loader
			resolveRemote(loader, src)
		}

		out, err := renderSource(src, opts)
		if err != nil {
			log.Fatalf("Failed to render image: %v", err)
		}
		fmt.Println(out)

		if flagClear { // Clear the image after displaying it
			time.Sleep(1 * time.Second)

			node := imgview.Present(src, opts)
			if err := node.Clear(opts, imgview.ClearOptions{All: true}); err != nil {
				log.Fatalf("Failed to clear image: %v", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "imgview", "config.toml")
}

// loadConfig reads a TOML config. A missing file is only an error when the
// path was given explicitly.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig fills in flags the user did not set on the command line.
func applyConfig(cmd *cobra.Command, cfg Config) {
	changed := cmd.Flags().Changed
	if !changed("protocol") && cfg.Protocol != "" {
		flagProtocol = cfg.Protocol
	}
	if !changed("scale") && cfg.Scale != "" {
		flagScale = cfg.Scale
	}
	if !changed("width") && cfg.Width > 0 {
		flagWidth = cfg.Width
	}
	if !changed("height") && cfg.Height > 0 {
		flagHeight = cfg.Height
	}
	if !changed("dither") && cfg.Dither {
		flagDither = true
	}
	if !changed("grayscale") && cfg.Grayscale {
		flagGrayscale = true
	}
	if !changed("tint") && cfg.Tint != "" {
		flagTint = cfg.Tint
	}
}

func buildOptions() (imgview.Options, error) {
	opts := imgview.DefaultOptions()
	opts.Width = flagWidth
	opts.Height = flagHeight
	opts.Resizable = flagResizable
	opts.Grayscale = flagGrayscale
	opts.Virtual = flagVirtual
	if flagDither {
		opts.Dither = true
		opts.DitherMode = imgview.DitherFloydSteinberg
	}

	scale, err := parseScale(flagScale)
	if err != nil {
		return opts, err
	}
	opts.Scale = scale

	mode, err := parseMode(flagMode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	if flagProtocol != "" {
		opts.Protocol = imgview.ParseProtocol(flagProtocol)
	}
	return opts, nil
}

// buildSource assembles the Source from the positional argument and the
// tint/placeholder flags.
func buildSource(arg string) (imgview.Source, error) {
	var src imgview.Source
	if isRemote(arg) {
		if flagPlaceholderURL != "" {
			src = imgview.RemoteWithRemotePlaceholder(arg, flagPlaceholderURL)
		} else {
			src = imgview.Remote(arg)
		}
	} else {
		var err error
		src, err = imgview.Open(arg)
		if err != nil {
			return imgview.Source{}, err
		}
		if flagPlaceholder != "" || flagPlaceholderURL != "" || flagPlaceholderTint != "" {
			log.Debug("placeholder flags only apply to remote sources")
		}
	}

	if flagPlaceholder != "" {
		ph, err := imgview.Open(flagPlaceholder)
		if err != nil {
			return imgview.Source{}, fmt.Errorf("failed to open placeholder: %w", err)
		}
		src = src.Placeholder(ph.Image())
	}

	tint, err := parseTint(flagTint)
	if err != nil {
		return imgview.Source{}, err
	}
	if tint != nil {
		src = src.Tint(tint)
	}

	ptint, err := parseTint(flagPlaceholderTint)
	if err != nil {
		return imgview.Source{}, err
	}
	if ptint != nil {
		src = src.PlaceholderTint(ptint)
	}
	return src, nil
}

// resolveRemote blocks until every URL the source references has settled so
// the following Present sees terminal states.
func resolveRemote(loader *fetch.Loader, src imgview.Source) {
	loader.Prefetch(src.Refs()...)
	for _, ref := range src.Refs() {
		if res := loader.Wait(ref); res.State == imgview.LoadFailure {
			log.WithField("url", ref).WithError(res.Err).Warn("image fetch failed")
		}
	}
}

func renderSource(src imgview.Source, opts imgview.Options) (string, error) {
	if flagVirtual {
		if flagX >= 0 || flagY >= 0 {
			return renderPlacement(src, opts)
		}
		return renderInlineVirtual(src, opts)
	}

	node := imgview.Present(src, opts)
	return node.Render(opts)
}

// renderInlineVirtual emits the virtual transfer followed by a placeholder
// block at the cursor, the way TUIs embed kitty images in ordinary text
// flow. --transfer-only keeps just the transfer so the caller can place the
// cells itself.
func renderInlineVirtual(src imgview.Source, opts imgview.Options) (string, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return "", fmt.Errorf("virtual rendering requires --width and --height")
	}

	id, set, err := parsePlacementImageID(flagImageID)
	if err != nil {
		return "", err
	}
	if !set {
		id = 1
	}

	var ko imgview.KittyOptions
	if opts.KittyOpts != nil {
		ko = *opts.KittyOpts
	}
	ko.ImageID = strconv.FormatUint(uint64(id), 10)
	opts.KittyOpts = &ko
	opts.Protocol = imgview.Kitty

	node := imgview.Present(src, opts)
	out, err := node.Render(opts)
	if err != nil {
		return "", err
	}
	if node.IsRect() {
		return out, nil
	}

	out += imgview.CreatePlaceholder(int(id), opts.Height, opts.Width)
	if flagTransferOnly {
		out = stripUnicodePlaceholderPayload(out)
	}
	return out, nil
}

// renderPlacement draws via kitty virtual placement at an explicit cell
// position, optionally under a caller-chosen image ID.
func renderPlacement(src imgview.Source, opts imgview.Options) (string, error) {
	if err := validatePlacementCoordinates(flagX, flagY); err != nil {
		return "", err
	}

	widget := imgview.NewImageWidget(src).
		SetProtocol(imgview.Kitty).
		SetVirtual(true).
		SetSize(flagWidth, flagHeight).
		SetPosition(flagX, flagY)
	if opts.Loader != nil {
		widget.SetLoader(opts.Loader)
	}

	id, set, err := parsePlacementImageID(flagImageID)
	if err != nil {
		return "", err
	}
	if set {
		widget.SetImageID(id)
	}
	return widget.RenderVirtual()
}

func printDetection() {
	features := imgview.QueryTerminalFeatures()

	fmt.Printf("Terminal: %s", features.TermName)
	if features.TermProgram != "" {
		fmt.Printf(" (%s)", features.TermProgram)
	}
	if features.IsTmux {
		fmt.Print(" [tmux]")
	}
	fmt.Println()

	fmt.Printf("  Kitty graphics: %v\n", features.KittyGraphics)
	fmt.Printf("  Sixel graphics: %v\n", features.SixelGraphics)
	fmt.Printf("  iTerm2 graphics: %v\n", features.ITerm2Graphics)
	fmt.Printf("  True color: %v\n", features.TrueColor)
	if features.FontWidth > 0 && features.FontHeight > 0 {
		fmt.Printf("  Cell size: %dx%d px\n", features.FontWidth, features.FontHeight)
	}
	if w, h, ok := csi.QueryXTSMGRAPHICS(); ok {
		fmt.Printf("  Max sixel geometry: %dx%d px\n", w, h)
	}

	fmt.Printf("Best protocol: %s\n", imgview.DetectProtocol())
}

func isRemote(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

// parseTint parses a #RRGGBB hex color, "" meaning no tint.
func parseTint(s string) (color.Color, error) {
	if s == "" {
		return nil, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return nil, fmt.Errorf("invalid tint %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid tint %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func parseScale(s string) (imgview.ScaleMode, error) {
	switch strings.ToLower(s) {
	case "", "fit":
		return imgview.ScaleFit, nil
	case "none":
		return imgview.ScaleNone, nil
	case "fill":
		return imgview.ScaleFill, nil
	case "stretch":
		return imgview.ScaleStretch, nil
	default:
		return imgview.ScaleFit, fmt.Errorf("unknown scale mode %q", s)
	}
}

func parseMode(s string) (imgview.RenderMode, error) {
	switch strings.ToLower(s) {
	case "", "original":
		return imgview.RenderOriginal, nil
	case "template":
		return imgview.RenderTemplate, nil
	default:
		return imgview.RenderOriginal, fmt.Errorf("unknown rendering mode %q", s)
	}
}

// validatePlacementCoordinates rejects negative cell positions before they
// reach the escape stream.
func validatePlacementCoordinates(x, y int) error {
	if x < 0 {
		return fmt.Errorf("placement x must be >= 0, got %d", x)
	}
	if y < 0 {
		return fmt.Errorf("placement y must be >= 0, got %d", y)
	}
	return nil
}

// parsePlacementImageID parses --image-id. Empty means auto-assign; zero is
// reserved by the protocol.
func parsePlacementImageID(s string) (uint32, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("invalid image id %q: %w", s, err)
	}
	if v == 0 {
		return 0, false, fmt.Errorf("image id must be non-zero")
	}
	return uint32(v), true, nil
}

// stripUnicodePlaceholderPayload drops the placeholder cells from a virtual
// render, leaving only the image transfer. The placeholder run starts at the
// color sequence immediately before the first placeholder character.
func stripUnicodePlaceholderPayload(rendered string) string {
	idx := strings.Index(rendered, imgview.PLACEHOLDER_CHAR)
	if idx < 0 {
		return rendered
	}
	if start := strings.LastIndex(rendered[:idx], "\x1b[38;"); start >= 0 {
		idx = start
	}
	return rendered[:idx]
}
