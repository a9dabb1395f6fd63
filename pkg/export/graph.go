package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/offlinefirst/screenreel/pkg/project"
)

const (
	shadowBlur   = 15
	shadowOffset = 8
	// legacyWebcamOpacity was stored by older projects that meant "opaque".
	legacyWebcamOpacity = 0.92
	fallbackBackground  = "0x1a1a1a"
)

// GraphSpec is everything the filter graph depends on.
type GraphSpec struct {
	Width    int
	Height   int
	FPS      int
	Format   project.ExportFormat
	Canvas   project.Canvas
	Webcam   project.Webcam
	Viewport ViewportExprs
	CursorX  string
	CursorY  string
	Trail    []TrailLayer
	Precrop  *Crop
	// CursorInput is the ffmpeg input index of the cursor sprite; WebcamInput is -1 when
	// no webcam is composited.
	CursorInput int
	WebcamInput int
	// Keep is a select() predicate over source time; empty keeps every frame.
	Keep string
	// Subtitles is an SRT file burned in on source time, before cuts are applied.
	Subtitles string
}

// BuildFilterGraph renders the -filter_complex graph. The final video pad is [vout].
func BuildFilterGraph(spec GraphSpec) string {
	var g strings.Builder
	w, h := spec.Width, spec.Height
	vp := spec.Viewport

	fmt.Fprintf(&g, "color=c=%s:s=%dx%d:r=%d[bg];", NormalizeColor(spec.Canvas.Background), w, h, max(spec.FPS, 1))

	src := "[0:v]"
	if c := spec.Precrop; c != nil {
		fmt.Fprintf(&g, "[0:v]crop=w=%d:h=%d:x=%d:y=%d[screen_src];", c.Width, c.Height, c.X, c.Y)
		src = "[screen_src]"
	}

	scale := fmt.Sprintf("scale=w='max(2,trunc((%d/(%s))/2)*2)':h='max(2,trunc((%d/(%s))/2)*2)':eval=frame:flags=lanczos", w, vp.W, h, vp.H)
	offX := fmt.Sprintf("(%d)*(-(%s))/(%s)", w, vp.X, vp.W)
	offY := fmt.Sprintf("(%d)*(-(%s))/(%s)", h, vp.Y, vp.H)
	if vp.Dynamic {
		// Frame-size changes break the mask/shadow chain, so zooming renders a flat composite.
		fmt.Fprintf(&g, "%s%s[screen_scaled];", src, scale)
		fmt.Fprintf(&g, "[bg][screen_scaled]overlay=x='%s':y='%s':eval=frame[base];", offX, offY)
	} else {
		radius := max(spec.Canvas.CornerRadius, 1)
		pad := max(spec.Canvas.Padding, 1)
		contentPad := max(pad-shadowOffset, 0)
		opacity := math.Min(math.Max(spec.Canvas.ShadowIntensity, 0), 1)
		fmt.Fprintf(&g, "%s%s,format=yuva420p[screen_scaled];", src, scale)
		g.WriteString("[screen_scaled]split[screen_for_mask][screen_for_comp];")
		fmt.Fprintf(&g, "[screen_for_mask]format=gray,geq=lum='if(gt(abs(W/2-X),W/2-%[1]d)*gt(abs(H/2-Y),H/2-%[1]d),if(lte((abs(W/2-X)-(W/2-%[1]d))^2+(abs(H/2-Y)-(H/2-%[1]d))^2,%[1]d^2),255,0),255)'[screen_mask];", radius)
		g.WriteString("[screen_for_comp][screen_mask]alphamerge[screen_rounded];")
		fmt.Fprintf(&g, "[screen_rounded]pad=w='iw+%[1]d*2':h='ih+%[1]d*2':x=%[1]d:y=%[1]d:color=0x00000000[padded_src];", pad)
		g.WriteString("[padded_src]split[src_fg][src_for_shadow];")
		g.WriteString("[src_for_shadow]split[shadow_alpha_src][shadow_color_src];")
		fmt.Fprintf(&g, "[shadow_alpha_src]alphaextract,gblur=sigma=%d[shadow_alpha];", shadowBlur)
		g.WriteString("[shadow_color_src]colorchannelmixer=rr=0:rg=0:rb=0:gr=0:gg=0:gb=0:br=0:bg=0:bb=0:aa=0[shadow_black];")
		fmt.Fprintf(&g, "[shadow_black][shadow_alpha]alphamerge,colorchannelmixer=aa=%.3f[shadow_layer];", opacity)
		fmt.Fprintf(&g, "[shadow_layer][src_fg]overlay=x=-%[1]d:y=-%[1]d[window_comp];", shadowOffset)
		fmt.Fprintf(&g, "[bg][window_comp]overlay=x='%s-%d':y='%s-%d':eval=frame[base];", offX, contentPad, offY, contentPad)
	}

	fmt.Fprintf(&g, "[%d:v]format=rgba,scale=%d:%d:flags=lanczos[cursor_sprite];", spec.CursorInput, cursorSpriteSize, cursorSpriteSize)
	if len(spec.Trail) > 0 {
		fmt.Fprintf(&g, "[cursor_sprite]split=%d", len(spec.Trail)+1)
		for i := range spec.Trail {
			fmt.Fprintf(&g, "[cursor_trail_src_%d]", i)
		}
		g.WriteString("[cursor_main];")
	}
	scene := "base"
	for i, layer := range spec.Trail {
		out := fmt.Sprintf("base_trail_%d", i)
		fmt.Fprintf(&g, "[cursor_trail_src_%d]colorchannelmixer=aa=%.3f[cursor_trail_sprite_%d];", i, layer.Opacity, i)
		fmt.Fprintf(&g, "[%s][cursor_trail_sprite_%d]overlay=x='(%s)-%d':y='(%s)-%d':eval=frame[%s];",
			scene, i, layer.X, cursorHotspot, layer.Y, cursorHotspot, out)
		scene = out
	}
	sprite := "cursor_sprite"
	if len(spec.Trail) > 0 {
		sprite = "cursor_main"
	}
	fmt.Fprintf(&g, "[%s][%s]overlay=x='(%s)-%d':y='(%s)-%d':eval=frame[scene]",
		scene, sprite, spec.CursorX, cursorHotspot, spec.CursorY, cursorHotspot)

	composed := "scene"
	if spec.WebcamInput >= 0 && spec.Webcam.Enabled {
		ratio := math.Min(math.Max(spec.Webcam.SizeRatio, 0.08), 0.5)
		margin := math.Min(math.Max(spec.Webcam.MarginRatio, 0), 0.2)
		ww := evenDimension(float64(w) * ratio)
		wh := evenDimension(float64(h) * ratio)
		mx := int(math.Round(float64(w) * margin))
		my := int(math.Round(float64(h) * margin))
		x, y := webcamPosition(spec.Webcam.Corner, mx, my)
		fmt.Fprintf(&g, ";[%d:v]scale=w=%d:h=%d:force_original_aspect_ratio=decrease:flags=lanczos,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black@0,format=yuva420p,colorchannelmixer=aa=%.3f[webcam]",
			spec.WebcamInput, ww, wh, ww, wh, WebcamOpacity(spec.Webcam.Opacity))
		fmt.Fprintf(&g, ";[scene][webcam]overlay=x=%s:y=%s:eof_action=pass[composed]", x, y)
		composed = "composed"
	}

	next := composed
	if spec.Subtitles != "" {
		fmt.Fprintf(&g, ";[%s]subtitles=filename='%s'[subtitled]", next, escapeFilterPath(spec.Subtitles))
		next = "subtitled"
	}
	if spec.Keep != "" {
		fmt.Fprintf(&g, ";[%s]select='%s',setpts=N/FRAME_RATE/TB[kept]", next, spec.Keep)
		next = "kept"
	}
	if spec.Format == project.FormatGIF {
		fmt.Fprintf(&g, ";[%s]fps=15,split[gif_a][gif_b];[gif_a]palettegen[gif_palette];[gif_b][gif_palette]paletteuse[vout]", next)
	} else {
		fmt.Fprintf(&g, ";[%s]null[vout]", next)
	}
	return g.String()
}

// escapeFilterPath quotes a path for use inside a single-quoted filter option.
func escapeFilterPath(path string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`).Replace(path)
}

func webcamPosition(corner project.WebcamCorner, mx, my int) (string, string) {
	switch corner {
	case project.CornerTopLeft:
		return fmt.Sprint(mx), fmt.Sprint(my)
	case project.CornerTopRight:
		return fmt.Sprintf("W-w-%d", mx), fmt.Sprint(my)
	case project.CornerBottomLeft:
		return fmt.Sprint(mx), fmt.Sprintf("H-h-%d", my)
	default:
		return fmt.Sprintf("W-w-%d", mx), fmt.Sprintf("H-h-%d", my)
	}
}

// WebcamOpacity clamps to [0,1] and treats the legacy 0.92 default as fully opaque.
func WebcamOpacity(raw float64) float64 {
	v := math.Min(math.Max(raw, 0), 1)
	if math.Abs(v-legacyWebcamOpacity) < 1e-6 {
		return 1
	}
	return v
}

// NormalizeColor converts "#rrggbb" or "0xRRGGBB" into ffmpeg's lowercase 0xrrggbb form.
// Anything else falls back to the default dark background.
func NormalizeColor(input string) string {
	s := strings.TrimSpace(input)
	var hex string
	switch {
	case strings.HasPrefix(s, "#"):
		hex = s[1:]
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		hex = s[2:]
	default:
		return fallbackBackground
	}
	if len(hex) != 6 || strings.Trim(hex, "0123456789abcdefABCDEF") != "" {
		return fallbackBackground
	}
	return "0x" + strings.ToLower(hex)
}

// AudioMap decides how audio reaches the output. It returns an optional filter-graph suffix
// (starting with ";") and the -map argument; an empty map means the output has no audio.
// mic and system are input indices or -1.
func AudioMap(mic, system int, screenAudio bool, keep string) (filter, mapArg string) {
	trim := ""
	if keep != "" {
		trim = fmt.Sprintf(",aselect='%s',asetpts=N/SR/TB", keep)
	}
	switch {
	case mic >= 0 && system >= 0:
		return fmt.Sprintf(";[%d:a:0]aresample=async=1:first_pts=0[amic];[%d:a:0]aresample=async=1:first_pts=0[asystem];[amic][asystem]amix=inputs=2:weights='1 1':normalize=0%s[aout]",
			mic, system, trim), "[aout]"
	case mic >= 0 || system >= 0:
		idx := max(mic, system)
		if keep == "" {
			return "", fmt.Sprintf("%d:a:0?", idx)
		}
		return fmt.Sprintf(";[%d:a:0]anull%s[aout]", idx, trim), "[aout]"
	default:
		if keep == "" {
			return "", "0:a?"
		}
		if screenAudio {
			return fmt.Sprintf(";[0:a:0]anull%s[aout]", trim), "[aout]"
		}
		// An optional stream cannot be filtered, so unprobed screen audio is left out.
		return "", ""
	}
}

// CodecArgs returns the encoder arguments for the export format.
func CodecArgs(cfg project.Export) []string {
	video := fmt.Sprintf("%dk", max(cfg.VideoBitrateKbps, 1000))
	audio := fmt.Sprintf("%dk", max(cfg.AudioBitrateKbps, 64))
	switch cfg.Format {
	case project.FormatMP4H265:
		return []string{"-c:v", "libx265", "-preset", "medium", "-pix_fmt", "yuv420p", "-b:v", video, "-tag:v", "hvc1",
			"-c:a", "aac", "-b:a", audio, "-movflags", "+faststart"}
	case project.FormatGIF:
		return []string{"-an", "-loop", "0"}
	case project.FormatWebM:
		return []string{"-c:v", "libvpx-vp9", "-pix_fmt", "yuv420p", "-b:v", video, "-c:a", "libopus", "-b:a", "128k"}
	default:
		return []string{"-c:v", "libx264", "-preset", "medium", "-profile:v", "high", "-pix_fmt", "yuv420p", "-b:v", video,
			"-c:a", "aac", "-b:a", audio, "-movflags", "+faststart"}
	}
}

// inputArgs adds one -i, delayed by offset when it is non-zero.
func inputArgs(path string, offsetNs int64) []string {
	if offsetNs == 0 {
		return []string{"-i", path}
	}
	return []string{"-itsoffset", fmt.Sprintf("%.6f", float64(offsetNs)/1e9), "-i", path}
}
