package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/captions"
	"github.com/stwalsh4118/stories/internal/overlay"
)

var (
	playlistPriority string
	captionsAt       float64
)

var playlistCmd = &cobra.Command{
	Use:   "playlist <playlist-id>",
	Short: "List the media ids of a playlist in widget order",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylist,
}

var mediaCmd = &cobra.Command{
	Use:   "media <media-id>",
	Short: "Show the metadata a widget would load for one item",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedia,
}

var captionsCmd = &cobra.Command{
	Use:   "captions <file-or-url>",
	Short: "Parse a subtitle file and print its cues",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaptions,
}

func init() {
	playlistCmd.Flags().StringVar(&playlistPriority, "priority", "", "media id to move to the front")
	captionsCmd.Flags().Float64Var(&captionsAt, "at", -1, "print only the caption shown at this position (seconds)")
	rootCmd.AddCommand(playlistCmd, mediaCmd, captionsCmd)
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func runPlaylist(cmd *cobra.Command, args []string) error {
	client, _ := newCatalogClient(Config())
	ids, err := client.FetchPlaylist(cmd.Context(), args[0], playlistPriority)
	if err != nil {
		return err
	}

	if JSONOutput() {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"playlist_id": args[0], "media_ids": ids})
	}
	for i, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i, id)
	}
	return nil
}

func runMedia(cmd *cobra.Command, args []string) error {
	client, _ := newCatalogClient(Config())
	meta, err := client.Media(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if JSONOutput() {
		return writeJSON(cmd.OutOrStdout(), meta)
	}
	return printMedia(cmd.OutOrStdout(), meta)
}

func printMedia(w io.Writer, meta *activation.Metadata) error {
	item := meta.Item
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", item.ID)
	fmt.Fprintf(tw, "Title\t%s\n", item.Title)
	if src, ok := item.HLSSource(); ok {
		fmt.Fprintf(tw, "Stream\t%s (hls)\n", src.File)
	} else if len(item.Sources) > 0 {
		fmt.Fprintf(tw, "Stream\t%s\n", item.Sources[0].File)
	}
	if item.CTA != nil {
		fmt.Fprintf(tw, "CTA\t%s -> %s\n", item.CTA.Text, item.CTA.Link)
	}
	if item.Disclaimer != "" {
		fmt.Fprintf(tw, "Disclaimer\t%s\n", item.Disclaimer)
	}
	fmt.Fprintf(tw, "Captions\t%d cues\n", len(meta.Captions))
	for _, r := range meta.Renditions {
		fmt.Fprintf(tw, "Rendition\t%s\t%s\n", r.Label, humanize.SI(float64(r.Bitrate), "bps"))
	}
	return tw.Flush()
}

func runCaptions(cmd *cobra.Command, args []string) error {
	track, err := loadTrack(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if captionsAt >= 0 {
		text := track.TextAt(captionsAt)
		if JSONOutput() {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"position": captionsAt, "text": text})
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}

	if JSONOutput() {
		return writeJSON(cmd.OutOrStdout(), track)
	}
	for _, cue := range track {
		fmt.Fprintf(cmd.OutOrStdout(), "%s - %s  %s\n",
			overlay.FormatTime(cue.Start), overlay.FormatTime(cue.End), strings.ReplaceAll(cue.Text, "\n", " / "))
	}
	return nil
}

func loadTrack(ctx context.Context, src string) (captions.Track, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client, _ := newCatalogClient(Config())
		return client.FetchCaptionsURL(ctx, src)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return captions.ParseReader(f)
}
