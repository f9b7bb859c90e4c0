package imgview

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"
)

// KittyOptions configures the kitty graphics protocol transfer.
type KittyOptions struct {
	Compression bool   // zlib-compress pixel data before encoding (o=z)
	PNG         bool   // transfer encoded PNG bytes instead of raw RGBA (f=100)
	TempFile    bool   // stage the image in a temp file and send its path (t=t)
	ImageNum    int    // image number the terminal should assign an ID for (I=)
	ImageID     string // explicit image ID (i=)
	Placement   string // placement ID, lets one image appear multiple times (p=)
	Position    *PositionOptions
}

// PositionOptions pins a kitty placement to a cell with a stacking order.
type PositionOptions struct {
	X      int // column, 1-based; zero leaves the cursor where it is
	Y      int // row, 1-based
	ZIndex int
}

// KittyRenderer draws images with the kitty graphics protocol.
type KittyRenderer struct{}

// Protocol returns the protocol this renderer implements.
func (r *KittyRenderer) Protocol() Protocol { return Kitty }

// Render returns the escape sequences that display img at the cursor
// position. Large payloads are split into 4KB chunks per the protocol.
func (r *KittyRenderer) Render(img image.Image, opts Options) (string, error) {
	if img == nil {
		return "", fmt.Errorf("kitty render: nil image")
	}

	processed, err := processImage(img, opts)
	if err != nil {
		return "", fmt.Errorf("kitty render: %w", err)
	}

	var kittyOpts KittyOptions
	if opts.KittyOpts != nil {
		kittyOpts = *opts.KittyOpts
	}

	controls, payload, err := buildKittyTransfer(processed, &kittyOpts, opts)
	if err != nil {
		return "", err
	}

	var graphics strings.Builder
	writeKittyChunks(&graphics, controls, payload)

	output := wrapTmuxPassthrough(graphics.String())
	if pos := kittyOpts.Position; pos != nil && pos.X > 0 && pos.Y > 0 {
		// Cursor movement stays outside the passthrough so tmux can
		// track it.
		output = fmt.Sprintf("\x1b[%d;%dH", pos.Y, pos.X) + output
	}
	return output, nil
}

// Print renders the image directly to stdout.
func (r *KittyRenderer) Print(img image.Image, opts Options) error {
	output, err := r.Render(img, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(os.Stdout, output)
	return err
}

// Clear deletes kitty placements. With an ImageID only that image is
// removed, otherwise every visible image is.
func (r *KittyRenderer) Clear(opts ClearOptions) error {
	var seq string
	if opts.ImageID != "" && !opts.All {
		seq = fmt.Sprintf("\x1b_Ga=d,d=i,i=%s\x1b\\", opts.ImageID)
	} else {
		seq = "\x1b_Ga=d\x1b\\"
	}
	_, err := io.WriteString(os.Stdout, wrapTmuxPassthrough(seq))
	return err
}

// buildKittyTransfer prepares the control keys and raw payload for one
// image transfer. The payload is not yet base64-encoded.
func buildKittyTransfer(img image.Image, ko *KittyOptions, opts Options) (string, []byte, error) {
	controls := []string{"a=T"}
	var data []byte

	switch {
	case ko.TempFile:
		f, err := os.CreateTemp("", "imgview-*.png")
		if err != nil {
			return "", nil, fmt.Errorf("kitty temp file: %w", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", nil, fmt.Errorf("kitty temp file encode: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return "", nil, fmt.Errorf("kitty temp file close: %w", err)
		}
		// The terminal deletes the file after reading it (t=t).
		controls = append(controls, "f=100", "t=t")
		data = []byte(f.Name())
	case ko.PNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", nil, fmt.Errorf("kitty png encode: %w", err)
		}
		controls = append(controls, "f=100")
		data = buf.Bytes()
	default:
		rgba := imageToNRGBA(img)
		bounds := rgba.Bounds()
		controls = append(controls,
			"f=32",
			fmt.Sprintf("s=%d", bounds.Dx()),
			fmt.Sprintf("v=%d", bounds.Dy()),
		)
		data = rgba.Pix
	}

	if ko.Compression && !ko.TempFile {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return "", nil, fmt.Errorf("kitty compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", nil, fmt.Errorf("kitty compress: %w", err)
		}
		controls = append(controls, "o=z")
		data = buf.Bytes()
	}

	if ko.ImageNum > 0 {
		controls = append(controls, fmt.Sprintf("I=%d", ko.ImageNum))
	}
	if ko.ImageID != "" {
		controls = append(controls, fmt.Sprintf("i=%s", ko.ImageID))
	}
	if ko.Placement != "" {
		controls = append(controls, fmt.Sprintf("p=%s", ko.Placement))
	}

	zIndex := opts.ZIndex
	if ko.Position != nil && ko.Position.ZIndex != 0 {
		zIndex = ko.Position.ZIndex
	}
	if zIndex != 0 {
		controls = append(controls, fmt.Sprintf("z=%d", zIndex))
	}

	if opts.Virtual {
		// Virtual placements draw nothing until Unicode placeholders
		// reference the image ID.
		controls = append(controls, "U=1")
	}

	return strings.Join(controls, ","), data, nil
}

// writeKittyChunks emits the transfer as one escape sequence, or as a
// chunked m=1.../m=0 series when the encoded payload exceeds CHUNK_SIZE.
func writeKittyChunks(buf *strings.Builder, controls string, data []byte) {
	chunks := ChunkedBase64Encode(data, BASE64_CHUNK_SIZE)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	if len(chunks) == 1 {
		fmt.Fprintf(buf, "\x1b_G%s;%s\x1b\\", controls, chunks[0])
		return
	}
	for i, chunk := range chunks {
		switch i {
		case 0:
			fmt.Fprintf(buf, "\x1b_G%s,m=1;%s\x1b\\", controls, chunk)
		case len(chunks) - 1:
			fmt.Fprintf(buf, "\x1b_Gm=0;%s\x1b\\", chunk)
		default:
			fmt.Fprintf(buf, "\x1b_Gm=1;%s\x1b\\", chunk)
		}
	}
}

// imageToNRGBA returns img as NRGBA without copying when it already is.
func imageToNRGBA(img image.Image) *image.NRGBA {
	if rgba, ok := img.(*image.NRGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// PLACEHOLDER_CHAR is the Unicode placeholder (U+10EEEE) that kitty
// replaces with virtual image cells.
const PLACEHOLDER_CHAR = "\U0010EEEE"

// rowColDiacritics maps row/column numbers to the combining characters
// kitty reads placeholder coordinates from. This covers the first 101
// entries of the protocol's rowcolumn-diacritics table; cells beyond it
// are emitted bare and the terminal infers their position from the
// preceding cell.
var rowColDiacritics = []rune{
	0x0305, 0x030D, 0x030E, 0x0310, 0x0312, 0x033D, 0x033E, 0x033F,
	0x0346, 0x034A, 0x034B, 0x034C, 0x0350, 0x0351, 0x0352, 0x0357,
	0x035B, 0x0363, 0x0364, 0x0365, 0x0366, 0x0367, 0x0368, 0x0369,
	0x036A, 0x036B, 0x036C, 0x036D, 0x036E, 0x036F, 0x0483, 0x0484,
	0x0485, 0x0486, 0x0487, 0x0592, 0x0593, 0x0594, 0x0595, 0x0597,
	0x0598, 0x0599, 0x059C, 0x059D, 0x059E, 0x059F, 0x05A0, 0x05A1,
	0x05A8, 0x05A9, 0x05AB, 0x05AC, 0x05AF, 0x05C4, 0x0610, 0x0611,
	0x0612, 0x0613, 0x0614, 0x0615, 0x0616, 0x0617, 0x0657, 0x0658,
	0x0659, 0x065A, 0x065B, 0x065D, 0x065E, 0x06D6, 0x06D7, 0x06D8,
	0x06D9, 0x06DA, 0x06DB, 0x06DC, 0x06DF, 0x06E0, 0x06E1, 0x06E2,
	0x06E4, 0x06E7, 0x06E8, 0x06EB, 0x06EC, 0x0730, 0x0732, 0x0733,
	0x0735, 0x0736, 0x073A, 0x073D, 0x073F, 0x0740, 0x0741, 0x0743,
	0x0745, 0x0747, 0x0749, 0x074A, 0x07EB,
}

// positionDiacritic returns the combining character for index, or an
// empty string past the table where positions are inferred.
func positionDiacritic(index int) string {
	if index < 0 || index >= len(rowColDiacritics) {
		return ""
	}
	return string(rowColDiacritics[index])
}

// placeholderColor selects the foreground color that carries the lower
// 24 bits of the image ID to the terminal.
func placeholderColor(imageID int) string {
	id := uint32(imageID)
	if id <= 255 {
		return fmt.Sprintf("\x1b[38;5;%dm", id)
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm", (id>>16)&0xff, (id>>8)&0xff, id&0xff)
}

// placeholderCell builds one placeholder cell with explicit row and
// column diacritics. idExtra carries bits 24-31 of the image ID and is
// only attached when nonzero.
func placeholderCell(row, col int, idExtra byte) string {
	cell := PLACEHOLDER_CHAR + positionDiacritic(row) + positionDiacritic(col)
	if idExtra != 0 {
		cell += positionDiacritic(int(idExtra))
	}
	return cell
}

// placeholderRow builds one colored row of cols placeholder cells. Only
// the first cell carries explicit coordinates; the rest are inferred,
// which keeps the output compact.
func placeholderRow(imageID, row, cols int) string {
	var b strings.Builder
	b.WriteString(placeholderColor(imageID))
	b.WriteString(placeholderCell(row, 0, byte(uint32(imageID)>>24)))
	for col := 1; col < cols; col++ {
		b.WriteString(PLACEHOLDER_CHAR)
	}
	b.WriteString("\x1b[39m")
	return b.String()
}

// CreatePlaceholder returns rows lines of placeholder cells for a
// virtual kitty image, colored so the terminal can associate them with
// imageID.
func CreatePlaceholder(imageID, rows, cols int) string {
	var b strings.Builder
	b.Grow(rows * (cols*len(PLACEHOLDER_CHAR) + 32))
	for row := 0; row < rows; row++ {
		b.WriteString(placeholderRow(imageID, row, cols))
		if row < rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// CreatePlaceholderArea returns a rows×cols grid where every cell
// carries explicit coordinates, so callers may reorder or clip cells
// before rendering them.
func CreatePlaceholderArea(imageID, rows, cols int) [][]string {
	idExtra := byte(uint32(imageID) >> 24)
	area := make([][]string, rows)
	for row := 0; row < rows; row++ {
		area[row] = make([]string, cols)
		for col := 0; col < cols; col++ {
			area[row][col] = placeholderCell(row, col, idExtra)
		}
	}
	return area
}

// RenderPlaceholderAreaWithImageID joins a placeholder area into
// printable lines colored for imageID.
func RenderPlaceholderAreaWithImageID(area [][]string, imageID int) string {
	color := placeholderColor(imageID)

	var b strings.Builder
	for i, row := range area {
		b.WriteString(color)
		for _, cell := range row {
			b.WriteString(cell)
		}
		b.WriteString("\x1b[39m")
		if i < len(area)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
