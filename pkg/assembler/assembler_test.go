package assembler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

func params() Params {
	temp := float32(0.7)
	return Params{
		Model:           "gemini-2.0-flash",
		SystemPromptRef: "default",
		Prompts:         map[string]string{"default": "You are helpful."},
		Generation:      domain.GenerationConfig{Temperature: &temp, MaxOutputTokens: 1024},
		Safety: domain.SafetyPolicy{
			domain.HarmCategorySexuallyExplicit: domain.ThresholdBlockLowAndAbove,
			domain.HarmCategoryHarassment:       domain.ThresholdBlockNone,
			domain.HarmCategoryDangerousContent: domain.ThresholdBlockOnlyHigh,
			domain.HarmCategoryHateSpeech:       domain.ThresholdUnspecified,
		},
	}
}

func conversation() []domain.Turn {
	return []domain.Turn{
		{ID: "u1", Role: domain.RoleUser, Parts: []domain.ContentPart{domain.TextPart("hi")}},
		{ID: "m1", Role: domain.RoleModel, Parts: []domain.ContentPart{domain.TextPart("hello")}},
		{
			ID:           "u2",
			Role:         domain.RoleUser,
			Parts:        []domain.ContentPart{domain.TextPart("why?")},
			ReplyContext: &domain.ReplyContext{TurnID: "m1", Role: domain.RoleModel, Kind: domain.PartText, Summary: "hello"},
		},
	}
}

func TestAssemble(t *testing.T) {
	req, err := Assemble(conversation(), params())
	if err != nil {
		t.Fatal(err)
	}

	if req.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected model %q", req.Model)
	}
	if len(req.Contents) != 4 {
		t.Fatalf("expected system element plus 3 turns, got %d", len(req.Contents))
	}

	system := req.Contents[0]
	if system.Role != domain.RequestRoleSystem || system.Parts[0].Text != "You are helpful." {
		t.Errorf("unexpected system element %+v", system)
	}

	wantRoles := []domain.RequestRole{domain.RequestRoleUser, domain.RequestRoleModel, domain.RequestRoleUser}
	for i, want := range wantRoles {
		if got := req.Contents[i+1].Role; got != want {
			t.Errorf("content %d: expected role %s, got %s", i+1, want, got)
		}
	}

	reply := req.Contents[3]
	if len(reply.Parts) != 2 {
		t.Fatalf("expected annotation plus text, got %d parts", len(reply.Parts))
	}
	wantAnnotation := "CONTEXT: User is replying to a previous text message sent by AI assistant\n" +
		"REPLIED MESSAGE: hello\n\n" +
		"USER'S REPLY:"
	if reply.Parts[0].Text != wantAnnotation {
		t.Errorf("unexpected annotation:\n%s", reply.Parts[0].Text)
	}
	if reply.Parts[1].Text != "why?" {
		t.Errorf("expected reply text after annotation, got %q", reply.Parts[1].Text)
	}

	wantCategories := []domain.HarmCategory{
		domain.HarmCategoryDangerousContent,
		domain.HarmCategoryHarassment,
		domain.HarmCategoryHateSpeech,
		domain.HarmCategorySexuallyExplicit,
	}
	for i, s := range req.Safety {
		if s.Category != wantCategories[i] {
			t.Errorf("safety %d: expected %s, got %s", i, wantCategories[i], s.Category)
		}
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	first, err := Assemble(conversation(), params())
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		next, err := Assemble(conversation(), params())
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, next) {
			t.Fatal("identical inputs produced different requests")
		}
	}
}

func TestAssembleDoesNotAliasTurns(t *testing.T) {
	turns := conversation()
	req, err := Assemble(turns, params())
	if err != nil {
		t.Fatal(err)
	}
	req.Contents[1].Parts[0].Text = "changed"
	if turns[0].Parts[0].Text != "hi" {
		t.Error("assembled request shares parts with history")
	}
}

func TestAssembleConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		field  string
	}{
		{"missing prompt", func(p *Params) { p.SystemPromptRef = "pirate" }, "system_prompt_ref"},
		{"no prompts loaded", func(p *Params) { p.Prompts = nil }, "system_prompt_ref"},
		{"empty model", func(p *Params) { p.Model = "" }, "model_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.modify(&p)
			_, err := Assemble(conversation(), p)
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestReplyAnnotationUserImage(t *testing.T) {
	got := ReplyAnnotation(domain.ReplyContext{Role: domain.RoleUser, Kind: domain.PartImage, Summary: "[Image]"})
	want := "CONTEXT: User is replying to a previous image message sent by user\nREPLIED MESSAGE: [Image]\n\nUSER'S REPLY:"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
