package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"

	"atelier/internal/artifact"
	"atelier/internal/chat"
	"atelier/internal/config"
	"atelier/internal/deepthink"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/session"
	"atelier/internal/stage"
)

var (
	assistantOut = color.New(color.FgGreen)
	eventOut     = color.New(color.FgYellow)
	errorOut     = color.New(color.FgRed)
	promptOut    = color.New(color.FgCyan, color.Bold)
)

func main() {
	assetName := flag.String("asset", "", "default asset name for generated images")
	aspect := flag.String("aspect", "1:1", "default aspect ratio")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	text, err := llm.NewGeminiText(ctx, cfg.TextModel)
	if err != nil {
		log.Fatalf("text client: %v", err)
	}
	defer text.Close()
	image, err := llm.NewGeminiImage(ctx, cfg.ImageModel)
	if err != nil {
		log.Fatalf("image client: %v", err)
	}
	defer image.Close()

	st := session.NewState()
	store := artifact.Store(artifact.NewMemoryStore())
	if cfg.Artifact.Enabled {
		if s3, s3Err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		}); s3Err == nil {
			store = s3
		} else {
			log.Printf("s3 store unavailable, using memory: %v", s3Err)
		}
	}

	led := ledger.New()
	gen := &stage.Generation{Text: text, Image: image, Store: store, Ledger: led, Session: st}
	assistant := &chat.Assistant{
		Session:    st,
		Store:      store,
		Ledger:     led,
		Generation: gen,
		Loop: &deepthink.Controller{
			Capture:  &stage.Capture{LLM: text},
			Generate: gen,
			Review:   &stage.Review{LLM: text, Store: store},
			Control:  &stage.Control{LLM: text},
			Session:  st,
			Notify: func(ev deepthink.Event) {
				eventOut.Printf("[%s] %s\n", ev.Kind, ev.Text)
			},
		},
	}

	fmt.Println("atelier - conversational image studio")
	fmt.Println(`Describe the image you want. Say "deep think" to refine iteratively.`)
	fmt.Println("Commands: /edit <filename> <instruction>, /upload <path>, /assets, /refs, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		promptOut.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if handleCommand(ctx, assistant, line) {
			continue
		}

		reply, err := assistant.HandleMessage(ctx, chat.Message{Text: line}, chat.CreateParams{
			AssetName:   *assetName,
			AspectRatio: *aspect,
		})
		if err != nil {
			errorOut.Println(err)
			continue
		}
		assistantOut.Println(reply)
	}
}

// handleCommand dispatches slash commands; returns false for plain chat.
func handleCommand(ctx context.Context, assistant *chat.Assistant, line string) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/assets":
		assistantOut.Println(assistant.DescribeAssets())
	case "/refs":
		assistantOut.Println(assistant.DescribeReferences())
	case "/edit":
		if len(fields) < 3 {
			errorOut.Println("usage: /edit <filename> <instruction>")
			return true
		}
		out, err := assistant.Edit(ctx, chat.EditParams{
			Filename:    fields[1],
			Instruction: strings.Join(fields[2:], " "),
		})
		if err != nil {
			errorOut.Println(err)
			return true
		}
		assistantOut.Println("Image edited successfully! " + out.Message)
	case "/upload":
		if len(fields) != 2 {
			errorOut.Println("usage: /upload <path>")
			return true
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			errorOut.Println(err)
			return true
		}
		ref, err := assistant.StoreReference(ctx, llm.Image{MIME: http.DetectContentType(data), Data: data})
		if err != nil {
			errorOut.Println(err)
			return true
		}
		assistantOut.Printf("Stored reference image %s (upload %d)\n", ref.Filename, ref.Ordinal)
	default:
		errorOut.Println("unknown command: " + fields[0])
	}
	return true
}
