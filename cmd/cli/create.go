package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/database"
	"github.com/axellelanca/linkcloak/internal/repository"
	"github.com/axellelanca/linkcloak/internal/services"
)

var (
	targetURLFlag   string
	slugFlag        string
	titleFlag       string
	descriptionFlag string
	imageURLFlag    string
	contentFileFlag string
	inactiveFlag    bool
	expiresInFlag   time.Duration
)

// CreateCmd creates a cloaked link.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a cloaked link for an affiliate URL",
	Long: `Create a cloaked link and print its slug and public URL.

Example:
  linkcloak create --url="https://shop.example/p/123?aff=42" --slug=deal1 \
    --title="Summer sale" --image="https://cdn.example/deal1.jpg" --expires-in=720h`,
	RunE: func(c *cobra.Command, args []string) error {
		db, err := cmd.OpenDatabase()
		if err != nil {
			return err
		}
		defer database.Close(db)

		in := services.CreateLinkInput{
			TargetURL:   targetURLFlag,
			Slug:        slugFlag,
			Title:       titleFlag,
			Description: descriptionFlag,
			ImageURL:    imageURLFlag,
		}
		if contentFileFlag != "" {
			raw, err := os.ReadFile(contentFileFlag)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			in.Content = string(raw)
		}
		if inactiveFlag {
			active := false
			in.IsActive = &active
		}
		if expiresInFlag > 0 {
			expires := time.Now().Add(expiresInFlag)
			in.ExpiresAt = &expires
		}

		linkService := services.NewLinkService(repository.NewLinkRepository(db), repository.NewClickRepository(db), cmd.Logger)
		link, err := linkService.CreateLink(c.Context(), in)
		if err != nil {
			return fmt.Errorf("create link: %w", err)
		}

		out := c.OutOrStdout()
		fmt.Fprintln(out, "Link created:")
		fmt.Fprintf(out, "Slug: %s\n", link.Slug)
		fmt.Fprintf(out, "URL: %s/%s\n", cmd.Cfg.Server.BaseURL, link.Slug)
		if link.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires: %s\n", link.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	CreateCmd.Flags().StringVar(&targetURLFlag, "url", "", "affiliate target URL")
	CreateCmd.Flags().StringVar(&slugFlag, "slug", "", "custom slug (generated when empty)")
	CreateCmd.Flags().StringVar(&titleFlag, "title", "", "preview title")
	CreateCmd.Flags().StringVar(&descriptionFlag, "description", "", "preview description")
	CreateCmd.Flags().StringVar(&imageURLFlag, "image", "", "preview image URL")
	CreateCmd.Flags().StringVar(&contentFileFlag, "content-file", "", "markdown file rendered on the article page")
	CreateCmd.Flags().BoolVar(&inactiveFlag, "inactive", false, "create the link disabled")
	CreateCmd.Flags().DurationVar(&expiresInFlag, "expires-in", 0, "expire the link after this duration")
	_ = CreateCmd.MarkFlagRequired("url")

	cmd.RootCmd.AddCommand(CreateCmd)
}
