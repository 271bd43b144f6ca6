package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	imagepkg "github.com/youruser/chainoftrust/internal/image"
)

func newRenderCmd(opts *options) *cobra.Command {
	var (
		photo, subject, name, output string
		grain                        float64
		sigma                        int
		seed                         uint64
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a single card without touching the database",
		Example: `  chainoftrust render --subject 007 --name Bond
  chainoftrust render --photo me.jpg --subject 042 --output me.png --seed 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			r := imagepkg.NewRenderer(cfg.Assets.WithPhotoTemplate, cfg.Assets.AnonTemplate,
				imagepkg.Candidates(cfg.Assets.Fonts))
			r.Seed = seed
			r.MaxPhotoPixels = cfg.Photos.MaxPixels

			req := imagepkg.NewRequest(photo, subject, name, output)
			if p, ok := req.(imagepkg.WithPhoto); ok {
				p.GrainStrength = grain
				p.GrainSigma = sigma
				req = p
			}
			path, err := r.Render(cmd.Context(), req)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "card written to %s\n", path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&photo, "photo", "", "photo to place on the card (anonymous card when empty)")
	f.StringVar(&subject, "subject", "000", "subject number printed after '#'")
	f.StringVar(&name, "name", imagepkg.DefaultName, "name printed on the card")
	f.StringVarP(&output, "output", "o", imagepkg.DefaultOutput, "output PNG path")
	f.Float64Var(&grain, "grain", imagepkg.DefaultGrainStrength, "grain blend strength, 0 to 1")
	f.IntVar(&sigma, "sigma", imagepkg.DefaultGrainSigma, "grain noise standard deviation")
	f.Uint64Var(&seed, "seed", 0, "fixed grain seed (random when 0)")
	return cmd
}
