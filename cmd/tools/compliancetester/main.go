package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/config"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/archive"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	input := flag.String("in", "", "会话文本文件，每行一条 \"role: text\"；留空则读取标准输入")
	provider := flag.String("provider", "", "覆盖 ANNOTATION_PROVIDER (http|ark|gemini|keyword)")
	conversationID := flag.String("conversation", "", "写入快照时使用的会话 ID，留空则不归档")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *provider != "" {
		cfg.Annotation.Provider = *provider
	}

	text, err := readConversation(*input)
	if err != nil {
		log.Fatalf("读取会话失败: %v", err)
	}

	items := checklist.NewMemoryStore(checklist.Seed())
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, err := annotation.New(ctx, cfg.Annotation, items)
	if err != nil {
		log.Fatalf("初始化合规分析失败: %v", err)
	}

	started := time.Now()
	result, err := svc.Annotate(ctx, text)
	if err != nil {
		log.Fatalf("合规分析失败: %v", err)
	}
	log.Printf("[annotation] provider=%s elapsed=%s", cfg.Annotation.Provider, time.Since(started).Round(time.Millisecond))
	fmt.Println(result)

	if *conversationID == "" {
		return
	}

	dir, err := archive.NewDirArchive(cfg.Archive.Dir)
	if err != nil {
		log.Fatalf("初始化归档目录失败: %v", err)
	}
	key, err := archive.PutSnapshot(ctx, dir, conversation.ComplianceAnnotation{
		ConversationID: *conversationID,
		AsOfText:       text,
		Annotation:     result,
		ProducedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("写入快照失败: %v", err)
	}
	log.Printf("[archive] snapshot written: %s", key)
}

// readConversation 把多行输入拼接为 "role: text | role: text"
func readConversation(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("conversation is empty")
	}
	return strings.Join(lines, conversation.LineSeparator), nil
}
