package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMissingVariable is returned when a template references a variable that
// was not supplied.
var ErrMissingVariable = errors.New("missing prompt variable")

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Prompt is a named user-message template with {{name}} placeholders.
type Prompt struct {
	Name     string
	System   string
	Template string
}

// Render substitutes vars into the template in a single pass, so values
// that themselves contain {{...}} are left untouched.
func (p Prompt) Render(vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(p.Template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in prompt %s", ErrMissingVariable, strings.Join(missing, ", "), p.Name)
	}
	return out, nil
}

// Variables lists the placeholder names used by the template, in order of
// first appearance.
func (p Prompt) Variables() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(p.Template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// SelectTablesPrompt asks the model which catalog tables answer a question.
var SelectTablesPrompt = Prompt{
	Name: "select_tables",
	Template: `### 指令: 基于表描述信息理解用户的查询内容并推断哪些表与用户的查询属性最相关。
### 表信息: {{tableInfo}}
### 输入: {{userInput}}
### 输出: 返回相关度最高的表名，不要返回任何不必要的解释。每行一个表名。`,
}

// Text2SQLPrompt asks the model for executable SQL in a fenced block.
var Text2SQLPrompt = Prompt{
	Name: "text2sql",
	Template: `### 指令: 熟悉{{dialect}}数据库相关的SQL功能，你的任务是根据用户输入和表结构信息，生成符合要求且可实际执行的SQL语句。
### 表结构：{{tableSchema}}
### 用户输入: {{userInput}}
### 输出要求: 直接输出最终的SQL语句，不要包含任何解释、注释和分析内容；使用as关键字将英文字段名转为中文描述，中文描述使用英文双引号包裹，不要使用单引号；每条SQL语句以英文分号结尾；结果以Markdown格式展示SQL代码块。
### 示例：
` + "```sql" + `
    select
        id as "编号",
        name as "姓名"
    from
        users_table
    where age = 30;
` + "```",
}

// DataAnalysisPrompt turns query results into an analysis report. It is
// published to MCP clients; the agent itself does not call it.
var DataAnalysisPrompt = Prompt{
	Name: "data_analysis",
	Template: `### 指令: 基于查询到的相关数据和资料，进行详细的数据分析。
### SQL查询结果：{{SQLResult}}
### 用户输入: {{userInput}}
### 输出要求: 输出数据分析报告，要求：详细、专业、严谨。`,
}

// SQLOptimizeInstructions is appended to the question after an oversized
// result, asking the model to narrow the query.
const SQLOptimizeInstructions = `

以上SQL语句执行结果数据量较大，请改写此SQL语句。你可以采用以下手段优化：
1. 检查是否缺少了必要的where筛选条件，导致返回了过多无关数据；
2. 剔除非必要字段，仅保留与用户业务需求相关的列；
3. 在不影响最终分析结果的前提下，考虑使用聚合、分组或ROW_NUMBER() OVER分组排序取前5条数据等方式来减少输出；
    如：一个售电量表中有地区、年份、月份、行业、售电量等字段
    用户输入：查询一下2024年阿勒泰全年各个月的行业售电量是多少
    用户查询的是每个月的行业售电量情况，则应以年份和地区为筛选条件，以月份分组，以售电量排序，取每个分组的前5条数据（即每个月排名前5的行业）
    SELECT
      *
    FROM
      (
        SELECT
          power_month AS 周期月,
          hy_name AS 行业名称,
          power_num AS 真实值亿 kWh,
          ROW_NUMBER( ) OVER ( PARTITION BY power_month ORDER BY power_num DESC ) AS rn
        FROM
          tb_dlyc_area_hy_month
        WHERE
          org_name = '阿勒泰'
          AND power_year = '2024'
      ) t
    WHERE
      rn <= 5;

`
