package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bibin-skaria/ocidir/exporters"
	"github.com/bibin-skaria/ocidir/internal/types"
	"github.com/bibin-skaria/ocidir/layers"
	"github.com/bibin-skaria/ocidir/manifest"
	"github.com/bibin-skaria/ocidir/ocidir"
)

func newAddLayerCommand(a *app) *cobra.Command {
	var (
		tag         string
		file        string
		srcDir      string
		description string
		compression string
		level       int
		platform    string
		annotations []string
	)

	cmd := &cobra.Command{
		Use:   "add-layer PATH",
		Short: "Append a layer to an image",
		Long: `Append a layer to the image tagged --tag, creating the image if the tag
does not exist yet. The layer is a tar stream read from --file ("-" for
stdin) or generated from the directory --dir. Without --tag the layout is
treated as holding a single untagged image, which is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (srcDir == "") {
				return fmt.Errorf("exactly one of --file or --dir is required")
			}
			layerAnnotations, err := parseAnnotations(annotations)
			if err != nil {
				return err
			}
			p, err := a.platform(platform)
			if err != nil {
				return err
			}
			lc, err := a.cfg.LayerConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("compression") {
				if lc.Compression, err = layers.ParseCompression(compression); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("level") {
				lc.Level = &level
			}

			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			img, err := loadImage(dir, tag, p)
			if err != nil {
				return err
			}
			m, imgConfig := img.manifest, img.config
			// An existing image keeps its platform unless --platform is given,
			// in which case the configuration follows the new platform.
			if img.platform != nil {
				if cmd.Flags().Changed("platform") {
					imgConfig.Platform = p
				} else {
					p = *img.platform
				}
			}

			layer, err := writeLayer(cmd, dir, lc, file, srcDir)
			if err != nil {
				return err
			}
			if description == "" {
				description = "ocidir add-layer"
			}
			if err := dir.PushLayer(&m, &imgConfig, layer, description, layerAnnotations); err != nil {
				return err
			}
			if err := manifest.ValidateLayerParity(m, imgConfig); err != nil {
				return err
			}
			if err := manifest.ValidateImageManifest(m); err != nil {
				return err
			}

			var desc ocispec.Descriptor
			if tag != "" {
				desc, err = dir.InsertManifestAndConfig(m, imgConfig, tag, p)
			} else {
				desc, err = replaceSingle(dir, m, imgConfig, p)
			}
			if err != nil {
				return err
			}

			a.log.WithFields(logrus.Fields{
				"layer":    layer.Blob.Digest(),
				"manifest": desc.Digest,
				"tag":      tag,
			}).Info("added layer")
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", desc.Digest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Image tag to append to")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Tar file holding the layer (- for stdin)")
	cmd.Flags().StringVar(&srcDir, "dir", "", "Directory to archive as the layer")
	cmd.Flags().StringVar(&description, "description", "", "History entry for the layer")
	cmd.Flags().StringVar(&compression, "compression", "", "Layer compression (gzip, zstd, none)")
	cmd.Flags().IntVar(&level, "level", 0, "Compression level")
	cmd.Flags().StringVar(&platform, "platform", "", "Image platform (os/arch[/variant])")
	cmd.Flags().StringArrayVar(&annotations, "annotation", []string{}, "Layer annotations in KEY=VALUE format")

	return cmd
}

// image is the manifest and configuration add-layer extends. platform is
// nil for a new image.
type image struct {
	manifest ocispec.Manifest
	config   ocispec.Image
	platform *ocispec.Platform
}

// loadImage returns the image to extend: the one tagged tag, the layout's
// only image when tag is empty, or a new empty image for platform.
func loadImage(dir *ocidir.OCIDir, tag string, platform ocispec.Platform) (image, error) {
	var desc *ocispec.Descriptor
	if tag != "" {
		d, err := dir.FindManifestDescriptorWithTag(tag)
		if err != nil {
			return image{}, err
		}
		desc = d
	} else {
		index, err := dir.ReadIndex()
		if err != nil {
			return image{}, err
		}
		if index != nil && len(index.Manifests) == 1 {
			desc = &index.Manifests[0]
		} else if index != nil && len(index.Manifests) > 1 {
			return image{}, fmt.Errorf("layout holds %d images; select one with --tag", len(index.Manifests))
		}
	}

	if desc == nil {
		return image{
			manifest: manifest.NewEmptyManifest(),
			config:   manifest.NewImageConfig(platform),
		}, nil
	}

	var img image
	if err := dir.ReadJSONBlob(*desc, &img.manifest); err != nil {
		return image{}, err
	}
	imgConfig, err := dir.ReadConfig(img.manifest)
	if err != nil {
		return image{}, err
	}
	img.config = imgConfig
	if desc.Platform != nil {
		p := *desc.Platform
		img.platform = &p
	} else {
		img.platform = &imgConfig.Platform
	}
	return img, nil
}

func writeLayer(cmd *cobra.Command, dir *ocidir.OCIDir, lc layers.LayerConfig, file, srcDir string) (layers.Layer, error) {
	lw, err := dir.CreateLayer(lc)
	if err != nil {
		return layers.Layer{}, err
	}
	defer lw.Close()

	switch {
	case srcDir != "":
		if err := layers.WriteDirectory(lw, srcDir, layers.DefaultTarOptions()); err != nil {
			return layers.Layer{}, err
		}
	case file == "-":
		if _, err := io.Copy(lw, cmd.InOrStdin()); err != nil {
			return layers.Layer{}, fmt.Errorf("failed to read layer from stdin: %w", err)
		}
	default:
		f, err := os.Open(file)
		if err != nil {
			return layers.Layer{}, fmt.Errorf("failed to open layer: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(lw, f); err != nil {
			return layers.Layer{}, fmt.Errorf("failed to read layer: %w", err)
		}
	}
	return lw.Complete()
}

func replaceSingle(dir *ocidir.OCIDir, m ocispec.Manifest, imgConfig ocispec.Image, platform ocispec.Platform) (ocispec.Descriptor, error) {
	configDesc, err := dir.WriteConfig(imgConfig)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	m.Config = configDesc
	if err := dir.ReplaceWithSingleManifest(m, platform); err != nil {
		return ocispec.Descriptor{}, err
	}
	_, desc, err := dir.ReadManifestAndDescriptor()
	return desc, err
}

func parseAnnotations(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	annotations := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid annotation %q: expected KEY=VALUE", v)
		}
		annotations[key] = value
	}
	return annotations, nil
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls PATH",
		Short: "List the manifests in the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			index, err := dir.ReadIndex()
			if err != nil {
				return err
			}
			if index == nil {
				return nil
			}
			out := cmd.OutOrStdout()
			for _, desc := range index.Manifests {
				tag, ok := manifest.Tag(desc)
				if !ok {
					tag = "<none>"
				}
				platform := "-"
				if desc.Platform != nil {
					platform = types.FormatPlatform(*desc.Platform)
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", tag, desc.Digest, platform, desc.Size)
			}
			return nil
		},
	}
}

func newShowCommand(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "show PATH",
		Short: "Print an image's manifest and configuration as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			desc, m, err := selectImage(dir, tag)
			if err != nil {
				return err
			}
			imgConfig, err := dir.ReadConfig(m)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Descriptor ocispec.Descriptor `json:"descriptor"`
				Manifest   ocispec.Manifest   `json:"manifest"`
				Config     ocispec.Image      `json:"config"`
			}{desc, m, imgConfig})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Image tag (default: the layout's only image)")

	return cmd
}

func selectImage(dir *ocidir.OCIDir, tag string) (ocispec.Descriptor, ocispec.Manifest, error) {
	if tag == "" {
		m, desc, err := dir.ReadManifestAndDescriptor()
		return desc, m, err
	}
	desc, err := dir.FindManifestDescriptorWithTag(tag)
	if err != nil {
		return ocispec.Descriptor{}, ocispec.Manifest{}, err
	}
	if desc == nil {
		return ocispec.Descriptor{}, ocispec.Manifest{}, fmt.Errorf("tag %q not found", tag)
	}
	var m ocispec.Manifest
	if err := dir.ReadJSONBlob(*desc, &m); err != nil {
		return ocispec.Descriptor{}, ocispec.Manifest{}, err
	}
	return *desc, m, nil
}

func newResetCommand(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "reset PATH",
		Short: "Reduce the index to a single image",
		Long: `Replace index.json with one referencing only the image tagged --tag,
untagged. Blobs of the dropped manifests stay on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag == "" {
				return fmt.Errorf("--tag is required")
			}
			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			desc, m, err := selectImage(dir, tag)
			if err != nil {
				return err
			}
			platform, err := a.platform("")
			if err != nil {
				return err
			}
			if desc.Platform != nil {
				platform = *desc.Platform
			}
			if err := dir.ReplaceWithSingleManifest(m, platform); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to %s\n", args[0], desc.Digest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Image tag to keep")

	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		format string
		opts   exporters.Options
	)

	cmd := &cobra.Command{
		Use:   "export PATH",
		Short: "Write an image as an archive",
		Long: fmt.Sprintf(`Write the layout or one of its images as an archive.
Available formats: %s.`, strings.Join(exporters.ListExporters(), ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := exporters.GetExporter(format)
			if err != nil {
				return err
			}
			if opts.Output == "" {
				return fmt.Errorf("--output is required")
			}
			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			if err := exporter.Export(cmd.Context(), dir, opts); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			a.log.WithFields(logrus.Fields{
				"format": format,
				"output": opts.Output,
			}).Info("exported")
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "oci-archive", "Archive format")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Archive path")
	cmd.Flags().StringVarP(&opts.Tag, "tag", "t", "", "Image tag (default: docker exports the layout's only image, oci-archive every image)")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "Image reference recorded in docker archives")
	cmd.Flags().BoolVar(&opts.Compress, "compress", false, "Gzip the archive")

	return cmd
}
