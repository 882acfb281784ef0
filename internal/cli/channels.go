package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/ui"
	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
	"github.com/law-makers/panelwatch/pkg/models"
)

// channelsCmd represents the channels command
var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage tracked channels",
	Long: `Add, list, and remove the channels that scheduled scrapes cover.

A channel can be given as its id (UC...), an @handle, or any channel URL.
Handles and legacy URLs are resolved through the video API, so adding them
requires an API key.`,
	Example: `  # Track a channel by handle
  $ panelwatch channels add @GoogleDevelopers

  # Track a channel by id with a custom title
  $ panelwatch channels add UC_x5XG1OV2P6uZZ5FSM9Ttw --title "Google for Developers"

  # List tracked channels
  $ panelwatch channels list

  # Stop tracking a channel and drop its videos
  $ panelwatch channels remove UC_x5XG1OV2P6uZZ5FSM9Ttw`,
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <channel>",
	Short: "Track a channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannelsAdd,
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked channels",
	Args:  cobra.NoArgs,
	RunE:  runChannelsList,
}

var channelsRemoveCmd = &cobra.Command{
	Use:   "remove <channel-id>",
	Short: "Stop tracking a channel and delete its videos",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannelsRemove,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsAddCmd)
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsRemoveCmd)

	channelsAddCmd.Flags().String("title", "", "Title to store instead of the resolved one")
}

func runChannelsAdd(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)

	ref, err := urlutil.ParseChannel(args[0])
	if err != nil {
		return err
	}

	ch := models.Channel{ID: ref.ID, Handle: ref.Handle}
	if a.YouTube.Configured() {
		info, err := a.YouTube.ResolveChannel(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("failed to resolve channel %s: %w", ref, err)
		}
		ch.ID = info.ID
		ch.Title = info.Title
		ch.Description = info.Description
		if info.Handle != "" {
			ch.Handle = info.Handle
		}
	} else if ref.ID == "" {
		return fmt.Errorf("resolving %s needs a video API key; pass the channel id instead", ref)
	}
	ch.URL = urlutil.ChannelRef{ID: ch.ID}.URL()
	if t, _ := cmd.Flags().GetString("title"); t != "" {
		ch.Title = t
	}

	store, err := a.Store()
	if err != nil {
		return err
	}
	if existing, err := store.GetChannel(ch.ID); err == nil {
		ch.LastCheckedAt = existing.LastCheckedAt
	}
	if err := store.SaveChannel(&ch); err != nil {
		return err
	}

	log.Info().Str("channel_id", ch.ID).Str("title", ch.Title).Msg("Channel tracked")
	if wantJSON(cmd) {
		return emitJSON(ch)
	}
	fmt.Println(ui.Success(fmt.Sprintf("✓ Tracking %s (%s)", displayTitle(ch), ch.ID)))
	return nil
}

func runChannelsList(cmd *cobra.Command, args []string) error {
	store, err := mustApp(cmd).Store()
	if err != nil {
		return err
	}
	channels, err := store.ListChannels()
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return emitJSON(channels)
	}

	if len(channels) == 0 {
		fmt.Println("\nNo tracked channels.")
		fmt.Println("\nAdd one with:")
		fmt.Println("  panelwatch channels add <channel>")
		fmt.Println()
		return nil
	}

	title(fmt.Sprintf("📺 Tracked Channels (%d)", len(channels)))
	for i, ch := range channels {
		fmt.Printf("%d. %s\n", i+1, ui.Bold(displayTitle(ch)))
		fmt.Printf("   ID:      %s\n", ch.ID)
		fmt.Printf("   URL:     %s\n", ch.URL)
		if n, err := store.CountVideos(ch.ID); err == nil {
			fmt.Printf("   Videos:  %d\n", n)
		}
		fmt.Printf("   Checked: %s\n", formatTime(ch.LastCheckedAt))
		if i < len(channels)-1 {
			fmt.Println()
		}
	}
	fmt.Println()
	return nil
}

func runChannelsRemove(cmd *cobra.Command, args []string) error {
	store, err := mustApp(cmd).Store()
	if err != nil {
		return err
	}
	if err := store.DeleteChannel(args[0]); err != nil {
		return err
	}
	fmt.Println(ui.Success("✓ Removed " + args[0]))
	return nil
}

func displayTitle(ch models.Channel) string {
	switch {
	case ch.Title != "":
		return ch.Title
	case ch.Handle != "":
		return ch.Handle
	default:
		return ch.ID
	}
}
