package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"query-classifier/cmd"
	"query-classifier/internal/finetune"

	"github.com/alexflint/go-arg"
)

type args struct {
	DataPath        string  `arg:"--data_path,required" help:"labeled .csv or .tsv file with index and question columns"`
	Epoch           int     `arg:"--epoch" default:"30" help:"number of training epochs"`
	BatchSize       int     `arg:"--batch_size" default:"64"`
	MinEachGroup    int     `arg:"--min_each_group" default:"3" help:"drop labels with fewer examples than this"`
	MaxLength       int     `arg:"--maxlength" default:"30" help:"drop questions longer than this many characters"`
	DoTest          bool    `arg:"--do_test" help:"only evaluate --model_start on the data file"`
	ModelOutput     string  `arg:"--model_output,required" help:"directory the finetuned model is saved to"`
	ModelStart      string  `arg:"--model_start" help:"saved model directory or s3:// uri to start from"`
	ModelPrediction string  `arg:"--model_prediction" help:"csv file the test predictions are written to"`
	Pretrained      string  `arg:"--pretrained" help:"pretrained encoder directory, defaults to PRETRAINED_MODEL_DIR"`
	TrainFraction   float64 `arg:"--train_fraction" default:"0.7"`
	LearningRate    float64 `arg:"--learning_rate" default:"0.001"`
	Seed            int64   `arg:"--seed" help:"random seed, 0 picks one from the clock"`
	UploadURI       string  `arg:"--upload_uri" help:"s3:// uri the saved model is uploaded to"`
	Env             string  `arg:"--env" help:"path to load env from"`
}

func (args) Description() string {
	return "Finetunes a pretrained transformer to classify questions."
}

func main() {
	var a args
	arg.MustParse(&a)

	if a.DoTest && a.ModelStart == "" {
		fmt.Println("In test mode, you should provide the model to evaluate.")
		return
	}

	cfg := cmd.LoadConfig(a.Env)

	destroy := cmd.InitOnnx(cfg)
	defer destroy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := cmd.NewProcessor(cfg, cmd.OpenDatabase(cfg), true)

	res, err := processor.Run(ctx, finetune.Job{
		DataPath:        a.DataPath,
		Epochs:          a.Epoch,
		BatchSize:       a.BatchSize,
		MinEachGroup:    a.MinEachGroup,
		MaxLength:       a.MaxLength,
		TestMode:        a.DoTest,
		ModelOutput:     a.ModelOutput,
		ModelStart:      a.ModelStart,
		ModelPrediction: a.ModelPrediction,
		Pretrained:      a.Pretrained,
		TrainFraction:   a.TrainFraction,
		LearningRate:    a.LearningRate,
		Seed:            a.Seed,
		UploadURI:       a.UploadURI,
	})
	if errors.Is(err, finetune.ErrNoModelToEvaluate) {
		fmt.Println("In test mode, you should provide the model to evaluate.")
		return
	}
	if err != nil {
		destroy()
		log.Fatalf("finetune run %s failed: %v", res.RunId, err)
	}

	if !a.DoTest {
		fmt.Printf("train/val/test sizes: %d/%d/%d\n", res.TrainSize, res.ValSize, res.TestSize)
		for _, stats := range res.History {
			fmt.Printf("epoch %d: loss %f, train accuracy %f, val accuracy %f\n", stats.Epoch, stats.Loss, stats.TrainAccuracy, stats.ValAccuracy)
		}
	}
	if res.TestAccuracy != nil {
		fmt.Printf("Testset accuracy: %f\n", *res.TestAccuracy)
	}
	fmt.Printf("run %s finished\n", res.RunId)
}
