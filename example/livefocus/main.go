package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/preprocess"
	"github.com/cinefocus/go-cinefocus/render"
	"github.com/cinefocus/go-cinefocus/segment"
	"github.com/cinefocus/go-cinefocus/tracker"
	"gocv.io/x/gocv"
)

var (
	// FPS is the number of FPS to simulate
	FPS         = 30
	FPSinterval = time.Duration(float64(time.Second) / float64(FPS))
)

// ResultFrame is a struct to wrap the gocv byte buffer and error result
type ResultFrame struct {
	Buf *gocv.NativeByteBuffer
	Err error
}

// Demo defines the struct for running the interactive focus demo
type Demo struct {
	// vidBuffer buffers the video frames into memory
	vidBuffer []gocv.Mat
	// focus is the click driven focus tracker
	focus *tracker.FocusTracker
	// provider is the segmentation backend feeding the tracker
	provider cinefocus.MaskProvider
	// clicks maps browser canvas coordinates to normalized video
	// coordinates honoring any letterbox bars
	clicks *preprocess.Resizer
	// opts are the depth of field compositing options
	opts render.Options
	// debug switches the stream from the composite to the overlay view
	debug atomic.Bool
	// font used for the debug overlay labels
	font render.Font
	// frameSeq numbers frames handed to the tracker
	frameSeq atomic.Int64
}

// NewDemo returns an instance of Demo, a streaming HTTP server rendering
// the depth of field composite with click to focus endpoints
func NewDemo(vidFile string, provider cinefocus.MaskProvider,
	canvasW, canvasH int, opts render.Options) (*Demo, error) {

	d := &Demo{
		provider: provider,
		opts:     opts,
		font:     render.DefaultFont(),
	}

	err := d.bufferVideo(vidFile)

	if err != nil {
		return nil, fmt.Errorf("Error buffering video: %w", err)
	}

	width := d.vidBuffer[0].Cols()
	height := d.vidBuffer[0].Rows()

	d.clicks = preprocess.NewResizer(width, height, canvasW, canvasH)

	d.focus = tracker.NewFocusTracker(provider, tracker.DefaultParams())
	d.focus.SetEventSink(tracker.LogSink{})

	log.Printf("Video frame size %dx%d, canvas %dx%d", width, height,
		canvasW, canvasH)

	return d, nil
}

// bufferVideo reads in the video frames and saves them to a buffer
func (d *Demo) bufferVideo(vidFile string) error {

	// open handle to read frames of video file
	video, err := gocv.VideoCaptureFile(vidFile)

	if err != nil {
		return err
	}

	defer video.Close()

	d.vidBuffer = make([]gocv.Mat, 0)

	for {
		img := gocv.NewMat()

		// read the next frame from the video
		if ok := video.Read(&img); !ok {
			// reached last video frame
			break
		}

		// Check if the frame is empty
		if img.Empty() {
			continue
		}

		// push frame onto buffer
		d.vidBuffer = append(d.vidBuffer, img)
	}

	if len(d.vidBuffer) == 0 {
		return fmt.Errorf("video contains no frames")
	}

	return nil
}

// Stream is the HTTP handler function used to stream video frames to browser
func (d *Demo) Stream(w http.ResponseWriter, r *http.Request) {

	log.Printf("New client connection established\n")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	// pointer to position in video buffer
	frameNum := -1

	// used for calculating FPS
	frameCount := 0
	startTime := time.Now()
	fps := float64(0)

	ticker := time.NewTicker(FPSinterval)
	defer ticker.Stop()

	// chan to receive processed frames
	recvFrame := make(chan ResultFrame, 30)

loop:
	for {
		select {
		case <-r.Context().Done():
			log.Printf("Client disconnected\n")
			break loop

		// simulate reading 30FPS web camera
		case <-ticker.C:

			// increment pointer to next image in the video buffer
			frameNum++
			if frameNum > len(d.vidBuffer)-1 {
				// last frame reached so loop back to start of video
				frameNum = 0
			}

			go d.ProcessFrame(d.vidBuffer[frameNum], recvFrame, fps, frameNum)

		case buf := <-recvFrame:

			if buf.Err != nil {
				log.Printf("Error occured during ProcessFrame: %v", buf.Err)

			} else {
				// Write the image to the response writer
				w.Write([]byte("--frame\r\n"))
				w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
				w.Write(buf.Buf.GetBytes())
				w.Write([]byte("\r\n"))

				// Flush the buffer
				flusher, ok := w.(http.Flusher)
				if ok {
					flusher.Flush()
				}
			}

			buf.Buf.Close()

			// calculate FPS
			frameCount++
			elapsed := time.Since(startTime).Seconds()

			if elapsed >= 1.0 {
				fps = float64(frameCount) / elapsed
				frameCount = 0
				startTime = time.Now()
			}
		}
	}
}

// ProcessFrame runs the focus tracker on the frame, renders the composite
// or debug overlay and returns the result encoded as a JPG file
func (d *Demo) ProcessFrame(img gocv.Mat, retChan chan<- ResultFrame,
	fps float64, frameNum int) {

	start := time.Now()

	frame := cinefocus.NewFrame(img, d.frameSeq.Add(1))

	state := d.focus.ProcessFrame(frame)

	// copy the source image and render onto the copy
	resImg := gocv.NewMat()
	defer resImg.Close()
	img.CopyTo(&resImg)

	if d.debug.Load() {
		err := render.DebugOverlay(&resImg, state, d.focus.Targets(),
			64, d.font, 2)

		if err != nil {
			log.Printf("Error rendering overlay: %v", err)
		}

	} else {
		render.Compose(&resImg, state, d.opts)
	}

	d.annotateHUD(&resImg, fps, frameNum, time.Since(start))

	// Encode the image to JPEG format
	buf, err := gocv.IMEncode(".jpg", resImg)

	retChan <- ResultFrame{
		Buf: buf,
		Err: err,
	}
}

// annotateHUD writes the processing statistics banner on the image
func (d *Demo) annotateHUD(img *gocv.Mat, fps float64, frameNum int,
	took time.Duration) {

	// blank out background video
	rect := image.Rect(0, 0, img.Cols(), 20)
	gocv.Rectangle(img, rect, render.Black, -1)

	gocv.PutTextWithParams(img,
		fmt.Sprintf("Frame: %d, FPS: %.2f, Render: %.2fms, Mode: %s, Targets: %d",
			frameNum, fps,
			float32(took)/float32(time.Millisecond),
			d.focus.Mode(), len(d.focus.Targets())),
		image.Pt(4, 14), gocv.FontHersheySimplex, 0.5, render.Pink, 1,
		gocv.LineAA, false)
}

// clickPoint parses canvas click coordinates from the request and maps
// them into normalized video coordinates.  Clicks landing on letterbox
// bars are rejected
func (d *Demo) clickPoint(r *http.Request) (cinefocus.Point, error) {

	x, err := strconv.Atoi(r.URL.Query().Get("x"))

	if err != nil {
		return cinefocus.Point{}, fmt.Errorf("bad x coordinate: %w", err)
	}

	y, err := strconv.Atoi(r.URL.Query().Get("y"))

	if err != nil {
		return cinefocus.Point{}, fmt.Errorf("bad y coordinate: %w", err)
	}

	pt, ok := d.clicks.NormalizePoint(x, y)

	if !ok {
		return cinefocus.Point{}, fmt.Errorf("click (%d,%d) is outside the video", x, y)
	}

	return pt, nil
}

// Focus handles single subject focus clicks
func (d *Demo) Focus(w http.ResponseWriter, r *http.Request) {

	pt, err := d.clickPoint(r)

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.focus.SetTarget(pt)
	fmt.Fprintf(w, "focus set at %.3f,%.3f\n", pt.X, pt.Y)
}

// Rack handles the two click rack focus sequence
func (d *Demo) Rack(w http.ResponseWriter, r *http.Request) {

	pt, err := d.clickPoint(r)

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.focus.SetMultiFocusPoint(pt)
	fmt.Fprintf(w, "rack focus point at %.3f,%.3f\n", pt.X, pt.Y)
}

// PriorityAdd adds a ranked subject at the clicked point
func (d *Demo) PriorityAdd(w http.ResponseWriter, r *http.Request) {

	pt, err := d.clickPoint(r)

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := d.focus.AddPrioritySubject(pt)

	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	fmt.Fprintf(w, "subject %d added\n", id)
}

// PriorityRemove removes a ranked subject by id
func (d *Demo) PriorityRemove(w http.ResponseWriter, r *http.Request) {

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)

	if err != nil {
		http.Error(w, fmt.Sprintf("bad subject id: %v", err), http.StatusBadRequest)
		return
	}

	if !d.focus.RemovePrioritySubject(id) {
		http.Error(w, "no such subject", http.StatusNotFound)
		return
	}

	fmt.Fprintf(w, "subject %d removed\n", id)
}

// PriorityReorder reassigns subject ranks from a comma delimited id list
func (d *Demo) PriorityReorder(w http.ResponseWriter, r *http.Request) {

	parts := strings.Split(r.URL.Query().Get("order"), ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)

		if err != nil {
			http.Error(w, fmt.Sprintf("bad subject id %q: %v", part, err),
				http.StatusBadRequest)
			return
		}

		ids = append(ids, id)
	}

	if err := d.focus.ReorderPriorities(ids); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fmt.Fprintf(w, "priorities reordered\n")
}

// ClearFocus drops all focus state
func (d *Demo) ClearFocus(w http.ResponseWriter, r *http.Request) {
	d.focus.Clear()
	fmt.Fprintf(w, "focus cleared\n")
}

// ToggleDebug switches between the composite and the debug overlay view
func (d *Demo) ToggleDebug(w http.ResponseWriter, r *http.Request) {
	on := !d.debug.Load()
	d.debug.Store(on)
	fmt.Fprintf(w, "debug overlay: %v\n", on)
}

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	vidFile := flag.String("v", "../data/cafe.mp4", "Video file to run interactive focus on")
	backend := flag.String("b", "stream", "Segmentation backend [stream|embed]")
	modelFile := flag.String("m", "../data/pointseg-512.onnx", "Segmentation model file, or encoder model for the embed backend")
	decoderFile := flag.String("d", "../data/pointseg-decoder.onnx", "Decoder model file for the embed backend")
	httpAddr := flag.String("a", "localhost:8080", "HTTP Address to run server on, format address:port")
	canvasSize := flag.String("c", "1280x720", "Browser canvas size clicks are reported against, format WxH")
	lighting := flag.String("light", "plain", "Lighting preset [plain|warm|cool|spotlight|vignette]")
	blurRadius := flag.Int("blur", 12, "Background blur radius in pixels")
	exposure := flag.Float64("exp", 1.0, "Exposure multiplier applied after compositing")

	flag.Parse()

	canvasW, canvasH, err := parseSize(*canvasSize)

	if err != nil {
		log.Fatalf("Error parsing canvas size: %v", err)
	}

	opts := render.DefaultOptions()
	opts.BlurRadius = *blurRadius
	opts.Exposure = float32(*exposure)

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

	demo, err := NewDemo(*vidFile, provider, canvasW, canvasH, opts)

	if err != nil {
		log.Fatalf("Error creating demo: %v", err)
	}

	http.HandleFunc("/stream", demo.Stream)
	http.HandleFunc("/focus", demo.Focus)
	http.HandleFunc("/rack", demo.Rack)
	http.HandleFunc("/priority/add", demo.PriorityAdd)
	http.HandleFunc("/priority/remove", demo.PriorityRemove)
	http.HandleFunc("/priority/reorder", demo.PriorityReorder)
	http.HandleFunc("/clear", demo.ClearFocus)
	http.HandleFunc("/debug", demo.ToggleDebug)

	// start http server
	log.Println(fmt.Sprintf("Open browser and view video at http://%s/stream",
		*httpAddr))
	log.Fatal(http.ListenAndServe(*httpAddr, nil))
}

// parseSize parses a WxH string
func parseSize(s string) (int, int, error) {

	parts := strings.Split(strings.ToLower(s), "x")

	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}

	w, err := strconv.Atoi(parts[0])

	if err != nil {
		return 0, 0, err
	}

	h, err := strconv.Atoi(parts[1])

	if err != nil {
		return 0, 0, err
	}

	return w, h, nil
}
