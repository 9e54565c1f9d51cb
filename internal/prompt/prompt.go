// Package prompt builds the text sent to the vision provider alongside a
// frame. Builders are pure: the same input always yields the same text.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

// DefaultHistoryWindow is the number of past observations included when the
// caller does not set one.
const DefaultHistoryWindow = 15

// HazardPromptInput is everything the hazard prompt is built from.
type HazardPromptInput struct {
	Camera        domain.Camera
	Scenes        []domain.SceneRule
	ActiveHazards []domain.Hazard

	// TargetSceneID, when set, asks for a scene_state object as well and
	// embeds that scene's history.
	TargetSceneID string

	// History is the target scene's timeline, oldest first, as returned by
	// the tracker.
	History       []domain.Observation
	HistoryWindow int
}

// BuildHazardPrompt renders the hazard analysis prompt for one camera frame.
func BuildHazardPrompt(in HazardPromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "你是一位专业的建筑工地安全检查员，正在通过摄像头 %s（编号 %s，位于%s）监控施工现场。\n\n",
		orUnknown(in.Camera.Name), in.Camera.ID, orUnknown(in.Camera.Location))

	b.WriteString("需要检查的安全场景和标准如下：\n")
	for _, s := range in.Scenes {
		writeScene(&b, s)
	}

	b.WriteString("\n当前存在的隐患：\n")
	if len(in.ActiveHazards) == 0 {
		b.WriteString("（无）\n")
	}
	for _, h := range in.ActiveHazards {
		fmt.Fprintf(&b, "- 隐患ID：%s\n  场景：%s\n  类型：%s\n  位置：%s\n  风险等级：%s\n",
			h.ID, h.SceneID, h.ViolationType, orUnknown(h.Location), h.RiskLevel)
	}

	if in.TargetSceneID != "" {
		fmt.Fprintf(&b, "\n场景 %s 的历史状态记录（从新到旧）：\n", in.TargetSceneID)
		writeHistory(&b, in.History, in.HistoryWindow)
	}

	b.WriteString(hazardInstructions)
	b.WriteString("\n请严格按以下JSON格式返回分析结果，只返回一个JSON对象：\n")
	if in.TargetSceneID != "" {
		b.WriteString(hazardSchemaWithState)
	} else {
		b.WriteString(hazardSchema)
	}
	b.WriteString(hazardNotes)
	return b.String()
}

// BuildScenePrompt renders the equipment and personnel state prompt for one
// scene. history is oldest first.
func BuildScenePrompt(sceneID string, history []domain.Observation, window int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "你是一位专业的施工现场安全检查员，请分析场景 %s 的这张施工现场图片。\n", sceneID)
	b.WriteString(sceneInstructions)

	b.WriteString("\n历史状态记录（从新到旧）：\n")
	writeHistory(&b, history, window)

	b.WriteString("\n请严格按以下JSON格式返回分析结果，只返回一个JSON对象：\n")
	b.WriteString(sceneStateSchema)
	b.WriteString(sceneNotes)
	return b.String()
}

func writeScene(b *strings.Builder, s domain.SceneRule) {
	fmt.Fprintf(b, "\n场景ID：%s\n场景：%s\n关键词：%s\n检查条件：\n", s.ID, s.Name, strings.Join(s.Keywords, "、"))
	for _, c := range s.Conditions {
		fmt.Fprintf(b, "- 类型：%s\n  项目：%s\n", c.Type, strings.Join(c.Items, "、"))
		if len(c.Standards) > 0 {
			fmt.Fprintf(b, "  标准：%s\n", strings.Join(c.Standards, "；"))
		}
	}
	if len(s.ViolationExamples) > 0 {
		b.WriteString("违规示例：\n")
		for _, ex := range s.ViolationExamples {
			fmt.Fprintf(b, "- %s\n", ex)
		}
	}
	fmt.Fprintf(b, "风险等级：%s\n违规类型：%s\n相关规范：%s\n", s.RiskLevel, s.ViolationType, s.Regulations)
}

// writeHistory lists at most window observations, newest first.
func writeHistory(b *strings.Builder, history []domain.Observation, window int) {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) == 0 {
		b.WriteString("（暂无历史记录）\n")
		return
	}
	for i := len(history) - 1; i >= 0; i-- {
		obs := history[i]
		boom := "unknown"
		if obs.Crane.Features != nil && obs.Crane.Features.BoomState != "" {
			boom = string(obs.Crane.Features.BoomState)
		}
		fmt.Fprintf(b, "\n时间：%s\n吊车状态：\n- 位置：%s\n- 起重臂状态：%s\n- 工作状态：%s\n人员情况：%d人\n",
			obs.Timestamp.UTC().Format(time.RFC3339),
			orUnknown(string(obs.Crane.Position)),
			boom,
			obs.Crane.Status,
			len(obs.Personnel),
		)
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

const hazardInstructions = `
请仔细分析图片并：
1. 对每个监控场景：
   - 检查是否存在场景中描述的情况
   - 按检查条件和标准识别违规行为并评估风险等级
   - 准确描述违规位置
2. 对当前存在的隐患：
   - 逐一判断是否仍然存在，并使用其隐患ID在 existing_hazards 中返回
   - 描述当前状态并给出整改建议
3. 对新发现的隐患：
   - 匹配相应的场景ID
   - 详细描述违规情况、位置和风险等级
4. 生成语音警告：
   - 针对高风险违规和持续存在的隐患
   - target 为已有隐患ID，或为 new 表示本次新发现的隐患
`

const hazardNotes = `
注意事项：
1. 已列在“当前存在的隐患”中的问题不得作为新隐患重复上报，只能通过 existing_hazards 按隐患ID更新
2. 只报告图片中有明确视觉证据的隐患，无法确认时不要上报，也不要猜测
3. existing_hazards 中的 hazard_id 必须来自上面的列表，不得编造
4. 位置描述要具体（如：“基坑东北角”，“距边缘2米处”）
5. 引用相关安全规范条款，提供明确可执行的警告和整改措施
6. 所有描述和建议必须使用中文
`

const hazardLists = `    "existing_hazards": [
        {
            "hazard_id": "string",
            "status": "active|resolved",
            "current_state": "详细描述当前状态",
            "recommendation": "具体整改建议"
        }
    ],
    "new_hazards": [
        {
            "scene_id": "string",
            "violation_type": "违规类型",
            "location": "具体位置描述",
            "risk_level": "high|medium|low",
            "description": "详细的违规描述",
            "regulation_reference": "违反的具体规范条款",
            "recommendation": "具体整改建议"
        }
    ],
    "voice_warnings": [
        {
            "target": "hazard_id|new",
            "message": "警告内容",
            "urgency": "high|medium|low"
        }
    ]`

const hazardSchema = "{\n" + hazardLists + "\n}\n"

const hazardSchemaWithState = "{\n" + hazardLists + ",\n    \"scene_state\": " + sceneStateBody + "\n}\n"

const sceneInstructions = `
重点关注以下内容：
1. 吊车检测：
   - 判断画面中是否存在吊车，并给出0到1之间的置信度
   - 观察起重臂状态（展开/收起）和方向（水平/倾斜/垂直）
2. 工作状态判断：
   - working：起重臂完全展开且呈倾斜或垂直状态
   - idle：起重臂收起、部分收起，或虽展开但保持水平
   - absent：吊车不在画面中
   - 结合历史状态：若上一状态为 working 且位置或起重臂方向有变化，视为持续作业
3. 人员情况（仅在 working 状态时分析）：
   - 统计吊车4米范围内的人员
   - 记录位置、安全帽颜色、角色、行为和与吊车的距离
   - 红色与白色安全帽为管理人员，黄色为工人
4. 状态变化：对比历史记录，描述吊车位置、起重臂和人员数量的变化
`

const sceneNotes = `
注意事项：
1. 必须首先判断吊车是否存在，并给出置信度
2. 吊车不存在时，position、features 和 movement 设为 null，status 为 absent
3. 起重臂处于水平方向时，即使展开也应判定为 idle
4. 吊车作业时必须有戴红色或白色安全帽的管理人员在场，否则在 issues 中记录无人旁站
5. 所有判断基于当前画面的实际观察，并结合历史记录综合分析
`

const sceneStateBody = `{
        "crane": {
            "presence": true,
            "position": "具体位置描述",
            "features": {
                "model": "型号",
                "color": "颜色",
                "boom_state": "展开|收起",
                "boom_direction": "水平|倾斜|垂直",
                "boom_angle": "相对于地面的大致角度"
            },
            "status": "working|idle|absent",
            "confidence": 0.95,
            "movement": {
                "position_changed": false,
                "movement_description": "位置变化描述",
                "boom_changed": false,
                "boom_change_description": "起重臂变化描述"
            }
        },
        "personnel": [
            {
                "position": "相对位置描述",
                "helmet_color": "安全帽颜色",
                "role": "worker|manager",
                "behavior": "行为描述",
                "distance_to_crane": "距离描述"
            }
        ],
        "safety_status": {
            "has_supervisor": true,
            "has_crane_supervisor": true,
            "risk_level": "high|medium|low",
            "issues": ["存在的问题"]
        },
        "state_analysis": {
            "continuous_operation": true,
            "operation_description": "作业连续性分析",
            "personnel_changes": "人员变化描述"
        }
    }`

const sceneStateSchema = sceneStateBody + "\n"
