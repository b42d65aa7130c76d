package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/render"
	"github.com/cinefocus/go-cinefocus/segment"
	"github.com/cinefocus/go-cinefocus/tracker"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// Size of TTF font used for the HUD
	TTFFontSize = 18
	// HUD text position
	hudX = 8
	hudY = 24
)

// scriptEvent is one scripted focus action applied at a given frame
type scriptEvent struct {
	frame  int64
	action string
	args   []string
}

// Processor renders a video file applying scripted focus actions
type Processor struct {
	// focus is the focus tracker driven by the script
	focus *tracker.FocusTracker
	// script holds the pending events in frame order
	script []scriptEvent
	// opts are the depth of field compositing options
	opts render.Options
	// debug renders the overlay view instead of the composite
	debug bool
	// fontFace is the loaded TTF font face, nil for the builtin HUD font
	fontFace font.Face
	// ovlFont is used by the debug overlay labels
	ovlFont render.Font
}

// NewProcessor returns an instance of Processor with the script loaded
func NewProcessor(provider cinefocus.MaskProvider, scriptFile string,
	opts render.Options, debug bool) (*Processor, error) {

	p := &Processor{
		opts:    opts,
		debug:   debug,
		ovlFont: render.DefaultFont(),
	}

	p.focus = tracker.NewFocusTracker(provider, tracker.DefaultParams())
	p.focus.SetEventSink(tracker.LogSink{})

	err := p.loadScript(scriptFile)

	if err != nil {
		return nil, fmt.Errorf("error loading focus script: %w", err)
	}

	return p, nil
}

// initFont loads the TTF font and sets up a new font face
func (p *Processor) initFont(fontPath string) error {

	// load font data
	fontBytes, err := os.ReadFile(fontPath)

	if err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}

	// parse the font
	f, err := opentype.Parse(fontBytes)

	if err != nil {
		return fmt.Errorf("failed to parse font: %w", err)
	}

	// create a type face
	p.fontFace, err = opentype.NewFace(f, &opentype.FaceOptions{
		Size:    TTFFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return fmt.Errorf("failed to create type face: %w", err)
	}

	return nil
}

// loadScript parses the focus script file.  Each line is
// "<frame> <action> [args...]" with actions focus, rack, priority,
// remove, reorder and clear.  Blank lines and # comments are skipped
func (p *Processor) loadScript(scriptFile string) error {

	fh, err := os.Open(scriptFile)

	if err != nil {
		return err
	}

	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		if len(fields) < 2 {
			return fmt.Errorf("line %d: expected '<frame> <action> [args]'", lineNum)
		}

		frame, err := strconv.ParseInt(fields[0], 10, 64)

		if err != nil {
			return fmt.Errorf("line %d: bad frame number: %w", lineNum, err)
		}

		p.script = append(p.script, scriptEvent{
			frame:  frame,
			action: fields[1],
			args:   fields[2:],
		})
	}

	return scanner.Err()
}

// applyEvents runs every script event due at the given frame number
func (p *Processor) applyEvents(frameNum int64) {

	for len(p.script) > 0 && p.script[0].frame <= frameNum {
		ev := p.script[0]
		p.script = p.script[1:]

		if err := p.applyEvent(ev); err != nil {
			log.Printf("Script event at frame %d failed: %v", ev.frame, err)
		}
	}
}

// applyEvent maps one script action to a tracker operation
func (p *Processor) applyEvent(ev scriptEvent) error {

	switch ev.action {
	case "focus":
		pt, err := parsePoint(ev.args)

		if err != nil {
			return err
		}

		p.focus.SetTarget(pt)

	case "rack":
		pt, err := parsePoint(ev.args)

		if err != nil {
			return err
		}

		p.focus.SetMultiFocusPoint(pt)

	case "priority":
		pt, err := parsePoint(ev.args)

		if err != nil {
			return err
		}

		id, err := p.focus.AddPrioritySubject(pt)

		if err != nil {
			return err
		}

		log.Printf("Added priority subject %d", id)

	case "remove":
		if len(ev.args) != 1 {
			return fmt.Errorf("remove takes a subject id")
		}

		id, err := strconv.ParseInt(ev.args[0], 10, 64)

		if err != nil {
			return err
		}

		if !p.focus.RemovePrioritySubject(id) {
			return fmt.Errorf("no such subject %d", id)
		}

	case "reorder":
		if len(ev.args) != 1 {
			return fmt.Errorf("reorder takes a comma delimited id list")
		}

		parts := strings.Split(ev.args[0], ",")
		ids := make([]int64, 0, len(parts))

		for _, part := range parts {
			id, err := strconv.ParseInt(part, 10, 64)

			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		return p.focus.ReorderPriorities(ids)

	case "clear":
		p.focus.Clear()

	default:
		return fmt.Errorf("unknown action %q", ev.action)
	}

	return nil
}

// parsePoint parses "x y" normalized coordinate arguments
func parsePoint(args []string) (cinefocus.Point, error) {

	if len(args) != 2 {
		return cinefocus.Point{}, fmt.Errorf("expected normalized 'x y' coordinates")
	}

	x, err := strconv.ParseFloat(args[0], 32)

	if err != nil {
		return cinefocus.Point{}, err
	}

	y, err := strconv.ParseFloat(args[1], 32)

	if err != nil {
		return cinefocus.Point{}, err
	}

	pt := cinefocus.Pt(float32(x), float32(y))

	if !pt.InBounds() {
		return cinefocus.Point{}, fmt.Errorf("point %.3f,%.3f out of bounds", x, y)
	}

	return pt, nil
}

// Run reads the input video, renders each frame and writes the output file
func (p *Processor) Run(vidFile, outFile string) error {

	video, err := gocv.VideoCaptureFile(vidFile)

	if err != nil {
		return fmt.Errorf("error opening video: %w", err)
	}

	defer video.Close()

	fps := video.Get(gocv.VideoCaptureFPS)

	if fps <= 0 {
		fps = 30
	}

	img := gocv.NewMat()
	defer img.Close()

	var writer *gocv.VideoWriter
	var frameNum int64

	for {
		if ok := video.Read(&img); !ok {
			break
		}

		if img.Empty() {
			continue
		}

		frameNum++

		// open the writer once the frame size is known
		if writer == nil {
			writer, err = gocv.VideoWriterFile(outFile, "mp4v", fps,
				img.Cols(), img.Rows(), true)

			if err != nil {
				return fmt.Errorf("error opening output video: %w", err)
			}

			defer writer.Close()
		}

		p.applyEvents(frameNum)

		state := p.focus.ProcessFrame(cinefocus.NewFrame(img, frameNum))

		if p.debug {
			err = render.DebugOverlay(&img, state, p.focus.Targets(),
				64, p.ovlFont, 2)

			if err != nil {
				log.Printf("Error rendering overlay: %v", err)
			}

		} else {
			render.Compose(&img, state, p.opts)
		}

		p.drawHUD(&img, frameNum)

		if err := writer.Write(img); err != nil {
			return fmt.Errorf("error writing frame %d: %w", frameNum, err)
		}
	}

	if writer == nil {
		return fmt.Errorf("video contains no frames")
	}

	log.Printf("Wrote %d frames to %s", frameNum, outFile)

	return nil
}

// drawHUD writes the frame number and focus mode on the image using the
// TTF face when loaded, else the builtin Hershey font
func (p *Processor) drawHUD(img *gocv.Mat, frameNum int64) {

	text := fmt.Sprintf("Frame %d  Mode %s  Targets %d",
		frameNum, p.focus.Mode(), len(p.focus.Targets()))

	if p.fontFace == nil {
		gocv.PutTextWithParams(img, text, image.Pt(hudX, hudY),
			gocv.FontHersheySimplex, 0.6, render.Yellow, 1,
			gocv.LineAA, false)
		return
	}

	if err := p.putTTFText(img, text, hudX, hudY); err != nil {
		log.Printf("Error drawing HUD text: %v", err)
	}
}

// putTTFText creates an image, writes the text on it with the TTF face
// and blends the result onto the frame
func (p *Processor) putTTFText(img *gocv.Mat, text string, x, y int) error {

	// create image with text writing
	rgba := image.NewRGBA(image.Rect(0, 0, img.Cols(), img.Rows()))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 0}), image.Point{}, draw.Src)

	dr := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: p.fontFace,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(x * 64),
			Y: fixed.Int26_6(y * 64),
		},
	}
	dr.DrawString(text)

	// Convert image.RGBA to gocv.Mat
	imgRGBA, err := gocv.NewMatFromBytes(rgba.Bounds().Dy(), rgba.Bounds().Dx(), gocv.MatTypeCV8UC4, rgba.Pix)

	if imgRGBA.Empty() || err != nil {
		return fmt.Errorf("error creating Mat from RGBA")
	}

	defer imgRGBA.Close()

	gocv.CvtColor(imgRGBA, &imgRGBA, gocv.ColorRGBAToBGR)
	gocv.AddWeighted(*img, 1.0, imgRGBA, 1.0, 0, img)

	return nil
}

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	vidFile := flag.String("v", "../data/cafe.mp4", "Video file to process")
	outFile := flag.String("o", "./focused.mp4", "Output video file to write")
	scriptFile := flag.String("s", "../data/focus-script.txt", "Focus script file of '<frame> <action> [args]' lines")
	backend := flag.String("b", "stream", "Segmentation backend [stream|embed]")
	modelFile := flag.String("m", "../data/pointseg-512.onnx", "Segmentation model file, or encoder model for the embed backend")
	decoderFile := flag.String("d", "../data/pointseg-decoder.onnx", "Decoder model file for the embed backend")
	ttfFont := flag.String("f", "", "Optional TTF font for the HUD text")
	lighting := flag.String("light", "plain", "Lighting preset [plain|warm|cool|spotlight|vignette]")
	blurRadius := flag.Int("blur", 12, "Background blur radius in pixels")
	exposure := flag.Float64("exp", 1.0, "Exposure multiplier applied after compositing")
	debug := flag.Bool("debug", false, "Render the debug overlay instead of the composite")

	flag.Parse()

	opts := render.DefaultOptions()
	opts.BlurRadius = *blurRadius
	opts.Exposure = float32(*exposure)

	var err error
	opts.Lighting, err = render.ParseLighting(*lighting)

	if err != nil {
		log.Fatalf("Error parsing lighting preset: %v", err)
	}

	var provider cinefocus.MaskProvider

	switch *backend {
	case "stream":
		provider, err = segment.NewStreamSegmenter(*modelFile,
			segment.StreamDefaultParams())
	case "embed":
		provider, err = segment.NewEmbedSegmenter(*modelFile, *decoderFile,
			segment.EmbedDefaultParams())
	default:
		log.Fatal("Unknown backend, use 'stream' or 'embed'")
	}

	if err != nil {
		log.Fatalf("Error loading segmentation backend: %v", err)
	}

	defer provider.Close()

	proc, err := NewProcessor(provider, *scriptFile, opts, *debug)

	if err != nil {
		log.Fatalf("Error creating processor: %v", err)
	}

	if *ttfFont != "" {
		if err := proc.initFont(*ttfFont); err != nil {
			log.Fatalf("Error initializing font face: %v", err)
		}
	}

	err = proc.Run(*vidFile, *outFile)

	if err != nil {
		log.Fatalf("Error processing video: %v", err)
	}
}
