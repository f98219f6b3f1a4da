package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/postpipe/internal/config"
	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/logging"
	"github.com/postpipe/internal/render"
	"github.com/postpipe/internal/service"
)

const seedActor = "seed"

// seedPost describes one sample post and the status it should end in.
type seedPost struct {
	title   string
	keyword string
	meta    string
	outline []db.OutlineSection
	body    string
	target  db.PostStatus
}

var seedPosts = []seedPost{
	{
		title:  "Ideas for the spring launch",
		target: db.PostStatusDraft,
	},
	{
		title:   "Choosing a static site generator",
		keyword: "static site generator",
		outline: []db.OutlineSection{
			{Level: 2, Heading: "What a generator does"},
			{Level: 2, Heading: "Comparing the popular options"},
		},
		target: db.PostStatusOutline,
	},
	{
		title:   "A practical guide to SQLite in production",
		keyword: "sqlite",
		outline: []db.OutlineSection{
			{Level: 2, Heading: "When SQLite is enough"},
			{Level: 2, Heading: "Backups and WAL mode"},
		},
		body:   "# A practical guide to SQLite in production\n\n## When SQLite is enough\n\nMost small services never outgrow a single file database.\n",
		target: db.PostStatusWriting,
	},
	{
		title:   "How we review every article before it ships",
		keyword: "editorial review",
		meta:    "A walk through our editorial review checklist, from outline to final proofread, and the tooling that keeps every article consistent.",
		outline: []db.OutlineSection{
			{Level: 2, Heading: "The checklist"},
			{Level: 2, Heading: "Automated checks"},
		},
		body:   "# How we review every article before it ships\n\nOur editorial review has two stages.\n\n## The checklist\n\nEditors read the draft aloud and mark unclear sentences.\n\n## Automated checks\n\nThe pipeline scores readability and tone before anyone signs off.\n",
		target: db.PostStatusReview,
	},
	{
		title:   "Scheduling posts across time zones",
		keyword: "scheduling posts",
		meta:    "Scheduling posts for readers in many time zones takes more than a cron job. Here is how we pick publish times and keep them reliable.",
		outline: []db.OutlineSection{
			{Level: 2, Heading: "Picking a time"},
			{Level: 2, Heading: "Keeping it reliable"},
		},
		body:   "# Scheduling posts across time zones\n\nScheduling posts well starts with knowing where readers are.\n\n## Picking a time\n\nLook at when readers open the newsletter.\n\n## Keeping it reliable\n\nStore every schedule in the database and sweep it often.\n",
		target: db.PostStatusPublished,
	},
}

// 测试数据生成器
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}
	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	defer db.Close(db.DB)

	renderer, err := render.NewRenderer(cfg.RenderCacheSize)
	if err != nil {
		log.Fatal(err)
	}
	registry, err := connector.FromConfig(cfg.Destinations, &http.Client{})
	if err != nil {
		log.Fatal("目标平台配置无效:", err)
	}
	svc := service.New(db.DB, service.Options{
		Logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		Renderer:   renderer,
		Connectors: registry,
	})

	fmt.Println("开始生成测试数据...")

	created, err := createTestPosts(context.Background(), svc, firstDestination(registry))
	if err != nil {
		log.Fatal("生成测试数据失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("文章: %d 篇，覆盖 draft / outline / writing / review / published\n", created)
}

func firstDestination(registry *connector.Registry) string {
	dests := registry.Destinations()
	if len(dests) == 0 {
		return ""
	}
	return dests[0].ID
}

// createTestPosts 创建覆盖各个生命周期状态的示例文章。已有文章时跳过。
func createTestPosts(ctx context.Context, svc *service.Services, destination string) (int, error) {
	var count int64
	if err := db.DB.Model(&db.Post{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		fmt.Println("文章已存在，跳过创建")
		return 0, nil
	}

	created := 0
	for _, sp := range seedPosts {
		post, err := svc.Posts.CreatePost(ctx, service.PostInput{
			Title:           sp.title,
			TargetKeyword:   sp.keyword,
			MetaDescription: sp.meta,
			Actor:           seedActor,
		})
		if err != nil {
			return created, fmt.Errorf("create %q: %w", sp.title, err)
		}
		created++

		// the outline edit moves draft -> outline, the body edit outline -> writing
		if len(sp.outline) > 0 {
			outline := sp.outline
			if _, _, err := svc.Posts.EditContent(ctx, post.ID, service.EditInput{
				VersionFields: service.VersionFields{Outline: &outline, ChangeSummary: "seed outline"},
				ChangeType:    db.ChangeTypeDraft,
				Actor:         seedActor,
			}); err != nil {
				return created, err
			}
		}
		if sp.body != "" {
			body := sp.body
			if _, _, err := svc.Posts.EditContent(ctx, post.ID, service.EditInput{
				VersionFields: service.VersionFields{Content: &body, ChangeSummary: "seed draft"},
				ChangeType:    db.ChangeTypeDraft,
				Actor:         seedActor,
			}); err != nil {
				return created, err
			}
		}
		if sp.target == db.PostStatusReview || sp.target == db.PostStatusPublished {
			if _, err := svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusReview, seedActor); err != nil {
				return created, err
			}
		}
		if sp.target == db.PostStatusPublished {
			if err := publishSeed(ctx, svc, post.ID, destination); err != nil {
				return created, err
			}
		}
		fmt.Printf("✅ %s (%s)\n", sp.title, sp.target)
	}
	return created, nil
}

// publishSeed 发布到第一个目标平台；质量检查不通过时保留在 review。
func publishSeed(ctx context.Context, svc *service.Services, postID uint, destination string) error {
	if destination == "" {
		fmt.Println("未配置目标平台，跳过发布")
		return nil
	}
	_, err := svc.Publish.Publish(ctx, service.PublishRequest{
		PostID:        postID,
		DestinationID: destination,
		AdvanceStatus: true,
		Actor:         seedActor,
	})
	if err != nil {
		fmt.Printf("⚠️  发布失败，文章保持 review: %v\n", err)
	}
	return nil
}
