package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/studio"
)

func NewOCRCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <image-file>",
		Short: "Extract the text of a page photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			image, err := readImageFile(args[0])
			if err != nil {
				return err
			}
			text, err := svc.ExtractText(cmd.Context(), image)
			if err != nil {
				return err
			}
			return printText(root.OutputOptions(), "text", text)
		},
	}
}

func NewPromptCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt [text]",
		Short: "Build an illustration prompt from page text",
		Long: `Build an illustration prompt from page text.

The text is taken from the arguments, or from stdin when none are given.`,
		Example: `  picturebook prompt "The little fox ran through the forest."
  picturebook ocr page.jpg -o json | jq -r .text | picturebook prompt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			text, err := textInput(cmd, args)
			if err != nil {
				return err
			}
			prompt, err := svc.BuildPrompt(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printText(root.OutputOptions(), "prompt", prompt)
		},
	}
}

func NewQuestionsCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "questions [text]",
		Short: "Write five reading comprehension questions about page text",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			text, err := textInput(cmd, args)
			if err != nil {
				return err
			}
			questions, err := svc.BuildQuestions(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printText(root.OutputOptions(), "questions", questions)
		},
	}
}

// imageFlags registers the generation overrides shared by generate and page.
type imageFlags struct {
	steps    int
	guidance float64
	width    int
	height   int
	seed     int64
}

func (f *imageFlags) register(flags *pflag.FlagSet) {
	flags.IntVar(&f.steps, "steps", 0, "Inference steps (default from config)")
	flags.Float64Var(&f.guidance, "guidance", 0, "Guidance scale (default from config)")
	flags.IntVar(&f.width, "width", 0, "Image width, a multiple of 8 (default from config)")
	flags.IntVar(&f.height, "height", 0, "Image height, a multiple of 8 (default from config)")
	flags.Int64Var(&f.seed, "seed", -1, "Noise seed; negative draws a fresh one")
}

func (f *imageFlags) options() diffusion.Options {
	opts := diffusion.Options{
		Steps:         f.steps,
		GuidanceScale: f.guidance,
		Width:         f.width,
		Height:        f.height,
	}
	if f.seed >= 0 {
		seed := f.seed
		opts.Seed = &seed
	}
	return opts
}

func NewGenerateCommand(root *RootCommand) *cobra.Command {
	var img imageFlags

	cmd := &cobra.Command{
		Use:     "generate [prompt]",
		Short:   "Generate an illustration from a prompt",
		Example: `  picturebook generate "one small orange fox running, simple forest background" --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			prompt, err := textInput(cmd, args)
			if err != nil {
				return err
			}
			ref, err := svc.GenerateImage(cmd.Context(), prompt, img.options())
			if err != nil {
				return err
			}
			return PrintOutput(imageTable(ref), root.OutputOptions())
		},
	}

	img.register(cmd.Flags())
	return cmd
}

func NewDetectCommand(root *RootCommand) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "detect <image-url>",
		Short: "Detect and translate the main objects of a generated image",
		Long: `Detect objects in a generated image and label them in the target language.

The image is given by the URL path the server returned (for example
/static/generated/ab12.png) or by a file path under the static directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			if topK < 0 {
				topK = svc.TopK()
			}
			dets, err := svc.DetectObjects(cmd.Context(), args[0], topK)
			if err != nil {
				return err
			}
			return PrintOutput(detectionTable(dets), root.OutputOptions())
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", -1, "Number of objects to return (default from config)")
	return cmd
}

func NewPageCommand(root *RootCommand) *cobra.Command {
	var (
		img       imageFlags
		topK      int
		questions bool
	)

	cmd := &cobra.Command{
		Use:   "page <image-file>",
		Short: "Run a page photo through the whole pipeline",
		Long: `Run a page photo through OCR, prompt building, image generation and
object detection, printing every intermediate result.`,
		Example: `  picturebook page page.jpg --questions -o yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			image, err := readImageFile(args[0])
			if err != nil {
				return err
			}

			opts := studio.PageOptions{Questions: questions, Image: img.options()}
			if topK >= 0 {
				opts.TopK = &topK
			}
			result, err := svc.ProcessPage(cmd.Context(), image, opts)
			if err != nil {
				return err
			}
			return PrintOutput(pageTable(result), root.OutputOptions())
		},
	}

	img.register(cmd.Flags())
	cmd.Flags().IntVarP(&topK, "top-k", "k", -1, "Number of objects to return (default from config)")
	cmd.Flags().BoolVar(&questions, "questions", false, "Also write comprehension questions")
	return cmd
}

func readImageFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.InvalidRequest("read image: %v", err)
	}
	if len(data) == 0 {
		return nil, apperr.InvalidRequest("image file is empty")
	}
	return data, nil
}

// textInput joins args, or reads stdin when there are none.
func textInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", apperr.InvalidRequest("text is required")
	}
	return text, nil
}
